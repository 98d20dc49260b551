// Command uniqd runs one agent process: the UDP id-issuing server and
// its admin HTTP surface. Uses the go-svc program/Init/Start/Stop
// shape, with a flag.FlagSet parsed before a config-file overlay,
// resolved together against the file overlay via mreiferson/go-options.
package main

import (
	"flag"
	"io/ioutil"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/judwhite/go-svc/svc"
	"github.com/mreiferson/go-options"
	"gopkg.in/yaml.v2"

	"github.com/zfair/uniqd/agent"
	"github.com/zfair/uniqd/config"
)

type program struct {
	once   sync.Once
	server *agent.Server
}

func main() {
	prg := &program{}
	if err := svc.Run(prg, syscall.SIGINT, syscall.SIGTERM); err != nil {
		log.Fatalf("%s", err)
	}
}

func (p *program) Init(env svc.Environment) error {
	if env.IsWindowsService() {
		dir := filepath.Dir(os.Args[0])
		return os.Chdir(dir)
	}
	return nil
}

func (p *program) Start() error {
	rand.Seed(time.Now().UTC().UnixNano())

	cfg := config.NewConfig()

	flagSet := uniqdFlagSet(cfg)
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		log.Fatalf("failed to parse flags - %s", err)
	}

	configFile := flagSet.Lookup("config").Value.String()
	fileConfig := map[string]interface{}{}
	if configFile != "" {
		if err := loadConfigFileMap(configFile, &fileConfig); err != nil {
			log.Fatalf("failed to load config file %s - %s", configFile, err)
		}
	}

	options.Resolve(cfg, flagSet, fileConfig)

	logger, err := config.NewLogger()
	if err != nil {
		log.Fatalf("failed to build logger - %s", err)
	}
	cfg.Logger = logger

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config - %s", err)
	}

	server, err := agent.NewServer(cfg)
	if err != nil {
		log.Fatalf("failed to instantiate uniqd - %s", err)
	}
	p.server = server

	go func() {
		err := p.server.Start()
		if err != nil {
			log.Printf("uniqd exited with error - %s", err)
			_ = p.Stop()
			os.Exit(1)
		}
	}()

	return nil
}

func (p *program) Stop() error {
	p.once.Do(func() {
		p.server.Exit()
	})
	return nil
}

// loadConfigFileMap decodes path into dst as a generic map, so
// options.Resolve can overlay it onto the flag-derived config. The
// format is chosen by extension, matching config.Config.LoadFile.
func loadConfigFileMap(path string, dst *map[string]interface{}) error {
	if strings.HasSuffix(path, ".toml") {
		_, err := toml.DecodeFile(path, dst)
		return err
	}
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(buf, dst)
}

// commaSeparated is a flag.Value splitting a single "--flag a,b,c"
// occurrence into a []string, since the standard flag package has no
// built-in list type and go-options resolves against flag.Value, not
// against a slice literal.
type commaSeparated struct{ values *[]string }

func (c commaSeparated) String() string {
	if c.values == nil {
		return ""
	}
	return strings.Join(*c.values, ",")
}

func (c commaSeparated) Set(v string) error {
	if v == "" {
		*c.values = nil
		return nil
	}
	*c.values = strings.Split(v, ",")
	return nil
}

func uniqdFlagSet(cfg *config.Config) *flag.FlagSet {
	flagSet := flag.NewFlagSet("uniqd", flag.ExitOnError)

	flagSet.Bool("version", false, "print version string")
	flagSet.String("config", "", "path to config file")

	flagSet.Var(commaSeparated{&cfg.MasterNodes}, "master_nodes", "comma-separated list of master host:port addresses")
	flagSet.String("ip", cfg.IP, "IP address to listen for UDP requests on")
	flagSet.Int("port", cfg.Port, "port to listen for UDP requests on")
	flagSet.Int("label", cfg.Label, "explicit machine label (-1 to acquire from master_nodes)")
	flagSet.Int("steps", cfg.Steps, "sequence reservation block size")
	flagSet.Int("expire", cfg.ExpireSeconds, "label lease expiry, in seconds")
	flagSet.Int("interval", cfg.IntervalSeconds, "label renewal interval, in seconds")
	flagSet.String("admin_address", cfg.AdminAddress, "address for the admin HTTP server")
	flagSet.String("seqstore", cfg.SeqStoreProvider, "sequence store backend (file, redis)")
	flagSet.String("seqstore_redis_addr", cfg.SeqStoreRedisAddr, "redis address for the redis seqstore backend")
	flagSet.String("seqstore_path", cfg.SeqStorePath, "path to the sequence block file for the file seqstore backend")
	flagSet.String("audit_dsn", cfg.AuditDSN, "postgres DSN for the issued-id audit log (empty disables it)")

	return flagSet
}
