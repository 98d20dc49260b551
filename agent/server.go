// Package agent implements the UDP-facing id-issuing server: a
// single-threaded dispatcher wrapped in a Server that owns its
// sequence store, label lease, id assembler, and audit log.
package agent

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/zfair/uniqd/agent/adminhttp"
	"github.com/zfair/uniqd/client"
	"github.com/zfair/uniqd/config"
	"github.com/zfair/uniqd/idpack"
	"github.com/zfair/uniqd/internal/lease"
	"github.com/zfair/uniqd/internal/provider/audit"
	"github.com/zfair/uniqd/internal/provider/audit/postgres"
	"github.com/zfair/uniqd/internal/provider/seqstore"
	seqfile "github.com/zfair/uniqd/internal/provider/seqstore/file"
	seqredis "github.com/zfair/uniqd/internal/provider/seqstore/redis"
	"github.com/zfair/uniqd/internal/util"
	"github.com/zfair/uniqd/wire"
)

// Server is the agent process: one UDP listener, one sequence store,
// one label lease, and the pieces that observe them.
type Server struct {
	instanceID string

	cfg atomic.Value

	ctx    context.Context
	cancel context.CancelFunc

	logger *zap.Logger

	conn *net.UDPConn

	store     seqstore.Store
	lease     *lease.Client
	assembler *idpack.Assembler
	auditLog  audit.Log

	masterClient *client.Client

	adminServer *adminhttp.Server

	idsIssued     uint64
	lastFsyncUnix int64

	stats atomic.Value

	startTime time.Time
	exitChan  chan struct{}

	// coreGroup tracks the dispatcher and fsync task, which must both
	// exit before the audit batcher and admin HTTP server are torn
	// down. waitGroup tracks the rest.
	coreGroup util.WaitGroupWrapper
	waitGroup util.WaitGroupWrapper
}

func (s *Server) getCfg() *config.Config { return s.cfg.Load().(*config.Config) }

func (s *Server) swapCfg(c *config.Config) { s.cfg.Store(c) }

func (s *Server) recordIssued() {
	atomic.AddUint64(&s.idsIssued, 1)
}

// NewServer builds a Server from cfg. It opens the UDP listener,
// selects and configures the sequence store and audit backends, and
// performs synchronous label acquisition if the store's label is
// unset or expired — all before Start is called.
func NewServer(cfg *config.Config) (*Server, error) {
	if cfg.Logger == nil {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		cfg.Logger = logger
	}

	id, err := uuid.NewRandom()
	instanceID := "unknown"
	if err == nil {
		instanceID = id.String()
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		instanceID: instanceID,
		ctx:        ctx,
		cancel:     cancel,
		logger:     cfg.Logger.With(zap.String("instance_id", instanceID), zap.Int64("node_id", cfg.NodeID)),
		startTime:  time.Now(),
		exitChan:   make(chan struct{}),
	}
	s.swapCfg(cfg)
	s.stats.Store(Stats{StartedAt: s.startTime})

	udpAddr := &net.UDPAddr{IP: net.ParseIP(cfg.IP), Port: cfg.Port}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "agent: listen %s:%d", cfg.IP, cfg.Port)
	}
	s.conn = conn

	seqstoreConfig := map[string]interface{}{
		"path":  cfg.SeqStorePath,
		"steps": cfg.Steps,
		"addr":  cfg.SeqStoreRedisAddr,
	}
	if cfg.HasExplicitLabel() {
		seqstoreConfig["label"] = cfg.Label
	}
	store, err := config.LoadProvider(
		ctx,
		&config.ProviderInfo{Provider: cfg.SeqStoreProvider, Config: seqstoreConfig},
		seqfile.New(),
		seqredis.New(cfg.Logger),
	)
	if err != nil {
		return nil, errors.Wrap(err, "agent: seqstore")
	}
	s.store = store.(seqstore.Store)

	s.auditLog = audit.Noop{}
	if cfg.AuditDSN != "" {
		pg := postgres.New(cfg.Logger)
		if err := pg.Configure(ctx, map[string]interface{}{"dsn": cfg.AuditDSN}); err != nil {
			return nil, errors.Wrap(err, "agent: audit log")
		}
		s.auditLog = pg
	}

	if cfg.HasExplicitLabel() {
		if err := s.store.SetLabel(uint8(cfg.Label)); err != nil {
			return nil, errors.Wrap(err, "agent: set explicit label")
		}
	}

	masterClient, err := newMasterClient(cfg)
	if err != nil {
		return nil, err
	}
	s.masterClient = masterClient

	s.lease = lease.New(s.store, cfg.MasterNodes, s, masterClient, cfg.Expire(), cfg.Interval(), lease.SelectRoundRobin)

	if len(cfg.MasterNodes) > 0 && s.lease.Expired(time.Now()) {
		acqCtx, acqCancel := context.WithTimeout(ctx, 5*time.Second)
		label, err := s.lease.Acquire(acqCtx)
		acqCancel()
		if err != nil {
			return nil, errors.Wrap(err, "agent: acquire label")
		}
		s.logger.Info("acquired label", zap.Uint8("label", label))
	}

	s.assembler = idpack.NewAssembler(s.store.Label())

	adminSrv, err := adminhttp.New(cfg.AdminAddress, cfg.Logger, s)
	if err != nil {
		return nil, errors.Wrap(err, "agent: admin http")
	}
	s.adminServer = adminSrv

	return s, nil
}

// newMasterClient builds the client.Client the lease uses to talk to
// masters. It is a no-op stand-in when no masters are configured,
// since client.New refuses an empty agent list.
func newMasterClient(cfg *config.Config) (*client.Client, error) {
	if len(cfg.MasterNodes) == 0 {
		return nil, nil
	}
	return client.New(client.Config{
		Agents:     cfg.MasterNodes,
		TimeoutMS:  2000,
		RetryTimes: 1,
		Select:     client.SelectPolling,
	})
}

// SendTo implements lease.Sender by writing a fire-and-forget frame on
// the agent's own listening socket. A renewal reply (or a
// LABEL_NOT_HOLD error) arrives back as an ordinary datagram, routed
// through handle like any other frame.
func (s *Server) SendTo(addr string, f wire.Frame) error {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return errors.Wrapf(err, "agent: resolve master %s", addr)
	}
	_, err = s.conn.WriteToUDP(wire.Encode(f), raddr)
	return err
}

// Snapshot returns the current published Stats for the admin HTTP
// server. It satisfies adminhttp.StatsSource.
func (s *Server) Snapshot() Stats {
	st := s.stats.Load().(Stats)
	st.Label = s.store.Label()
	st.LastRenewalUnix = s.store.LastRenewalTime()
	st.IOError = s.store.IOError()
	st.LabelExpired = s.lease.Expired(time.Now())
	st.Uncommitted = s.store.Uncommitted()
	st.IDsIssued = atomic.LoadUint64(&s.idsIssued)
	st.LastFsyncUnix = atomic.LoadInt64(&s.lastFsyncUnix)
	st.StartedAt = s.startTime
	return st
}

// Start runs the dispatcher and the admin HTTP server, blocking until
// one of them exits. The exitFunc/sync.Once pattern ensures only the
// first exit is observed, whichever goroutine produces it.
func (s *Server) Start() error {
	exitCh := make(chan error, 2)
	var once sync.Once
	exitFunc := func(err error) {
		once.Do(func() {
			exitCh <- err
		})
	}

	s.coreGroup.Wrap(func() {
		exitFunc(s.dispatchLoop())
	})
	s.coreGroup.Wrap(func() {
		exitFunc(s.fsyncLoop())
	})
	s.waitGroup.Wrap(func() {
		exitFunc(s.adminServer.Run())
	})

	err := <-exitCh
	return err
}

// Exit tears the server down in order: dispatcher, then fsync task,
// then the audit batcher, then the admin HTTP listener, then the
// sequence file, then the UDP socket.
func (s *Server) Exit() {
	s.cancel()
	close(s.exitChan)

	if s.conn != nil {
		_ = s.conn.Close() // unblocks a pending ReadFromUDP so dispatchLoop returns promptly
	}
	s.coreGroup.Wait()

	_ = s.auditLog.Close()

	if s.adminServer != nil {
		_ = s.adminServer.Close()
	}
	if s.masterClient != nil {
		_ = s.masterClient.Close()
	}
	s.waitGroup.Wait()

	if err := s.store.Flush(); err != nil {
		s.logger.Error("final flush failed", zap.Error(err))
	}
	_ = s.store.Close()
}
