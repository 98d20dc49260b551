package agent

import (
	"time"

	"go.uber.org/zap"

	"github.com/zfair/uniqd/errcode"
	"github.com/zfair/uniqd/idpack"
	"github.com/zfair/uniqd/internal/provider/audit"
	"github.com/zfair/uniqd/wire"
)

// handle routes one decoded request frame to a response frame. Every
// client request type maps to either a response or a RESPONSE_ERROR;
// the asynchronous master messages (RESPONSE_LABEL, RESPONSE_ERROR)
// return a zero Frame, which the caller takes to mean no reply is sent.
func (s *Server) handle(req wire.Frame, now time.Time) wire.Frame {
	switch req.Type {
	case wire.RequestLabel:
		return s.handleRequestLabel(req)
	case wire.ResponseLabel:
		// An asynchronous renewal reply from a master. There is
		// nothing to send back to a master.
		if err := s.lease.OnRenewalResponse(req, now); err != nil {
			s.logger.Error("lease: apply renewal response failed", zap.Error(err))
		}
		return wire.Frame{}
	case wire.ResponseError:
		if req.Value1 == errcode.LabelNotHold {
			if err := s.lease.ClearLabel(); err != nil {
				s.logger.Error("lease: clear label failed", zap.Error(err))
			}
		}
		return wire.Frame{}
	case wire.RequestUniqSeq:
		return s.handleRequestUniqSeq(req, now)
	case wire.RequestUniqID:
		return s.handleRequestUniqID(req, now)
	case wire.RequestLabelAndSeq:
		return s.handleRequestLabelAndSeq(req, now)
	default:
		return errorResponse(req, errcode.InvalidType)
	}
}

// gateIssuance checks the preconditions shared by every request that
// consumes a sequence number, in order: label expiry first, then a
// latched io error, then the store itself.
func (s *Server) gateIssuance(now time.Time) (code uint32, ok bool) {
	if s.lease.Expired(now) {
		return errcode.LabelExpired, false
	}
	if s.store.IOError() {
		return errcode.StoreSeq, false
	}
	return 0, true
}

// handleRequestLabel answers a client's REQUEST_LABEL with the agent's
// own currently held label — the same message type the agent itself
// sends to a master, answered here the way a master would answer it.
func (s *Server) handleRequestLabel(req wire.Frame) wire.Frame {
	if s.lease.Expired(time.Now()) {
		return errorResponse(req, errcode.LabelExpired)
	}
	if s.store.IOError() {
		return errorResponse(req, errcode.StoreSeq)
	}
	return wire.Frame{
		MajorVer: wire.MajorVersion,
		MinorVer: wire.MinorVersion,
		Type:     wire.ResponseLabel,
		Echo:     req.Echo,
		Value1:   uint32(s.store.Label()),
	}
}

func (s *Server) handleRequestUniqSeq(req wire.Frame, now time.Time) wire.Frame {
	if code, ok := s.gateIssuance(now); !ok {
		return errorResponse(req, code)
	}
	n := uint16(req.Value1)
	if n == 0 {
		n = 1
	}
	seq, err := s.store.Allocate(uint32(n))
	if err != nil || seq == 0 {
		s.logger.Error("seqstore: allocate failed", zap.Error(err))
		return errorResponse(req, errcode.StoreSeq)
	}
	s.recordIssued()
	return wire.Frame{
		MajorVer: wire.MajorVersion,
		MinorVer: wire.MinorVersion,
		Type:     wire.ResponseUniqSeq,
		Echo:     req.Echo,
		Value1:   seq,
	}
}

// handleRequestUniqID packs one id for the user carried in req.Value1.
// value1 carries the caller's user field through to the assembler
// unchanged.
func (s *Server) handleRequestUniqID(req wire.Frame, now time.Time) wire.Frame {
	if code, ok := s.gateIssuance(now); !ok {
		return errorResponse(req, code)
	}
	user := uint8(req.Value1)

	seq, err := s.store.Allocate(1)
	if err != nil || seq == 0 {
		s.logger.Error("seqstore: allocate failed", zap.Error(err))
		return errorResponse(req, errcode.StoreSeq)
	}

	s.assembler.SetLabel(s.store.Label())
	id := s.assembler.Assemble(user, seq, now)
	if id == idpack.Overflow {
		return errorResponse(req, errcode.Overflow)
	}
	s.recordIssued()
	s.auditLog.Record(audit.Entry{
		Label:    s.store.Label(),
		Seq:      seq,
		ID:       id,
		User:     user,
		IssuedAt: now,
	})

	return wire.Frame{
		MajorVer: wire.MajorVersion,
		MinorVer: wire.MinorVersion,
		Type:     wire.ResponseUniqID,
		Echo:     req.Echo,
		Value3:   id,
	}
}

func (s *Server) handleRequestLabelAndSeq(req wire.Frame, now time.Time) wire.Frame {
	if code, ok := s.gateIssuance(now); !ok {
		return errorResponse(req, code)
	}
	n := uint16(req.Value1)
	if n == 0 {
		n = 1
	}
	seq, err := s.store.Allocate(uint32(n))
	if err != nil || seq == 0 {
		s.logger.Error("seqstore: allocate failed", zap.Error(err))
		return errorResponse(req, errcode.StoreSeq)
	}
	s.recordIssued()
	return wire.Frame{
		MajorVer: wire.MajorVersion,
		MinorVer: wire.MinorVersion,
		Type:     wire.ResponseLabelAndSeq,
		Echo:     req.Echo,
		Value1:   uint32(s.store.Label()),
		Value2:   seq,
	}
}

func errorResponse(req wire.Frame, code uint32) wire.Frame {
	return wire.Frame{
		MajorVer: wire.MajorVersion,
		MinorVer: wire.MinorVersion,
		Type:     wire.ResponseError,
		Echo:     req.Echo,
		Value1:   code,
	}
}
