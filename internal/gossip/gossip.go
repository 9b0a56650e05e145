package gossip

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"vpledger/internal/wireproto"
	"vpledger/pkg/logging"
)

// MatchRunner is implemented by internal/matchmaker's driver: given a
// freshly-admitted intent, it runs the matchmaker WASM and applies any
// commands it emits. Kept as an interface here so gossip does not import
// matchmaker (matchmaker imports gossip's Mempool instead, avoiding a
// cycle).
type MatchRunner interface {
	TryMatch(intentID string, in wireproto.Intent) error
}

// Server is the node-local intent-gossip endpoint: an intent mempool, an
// optional WASM filter applied before admission, and a matchmaker run
// triggered on every newly admitted intent. Message delivery itself lives
// in Transport; Server only consumes delivered bytes.
type Server struct {
	Mempool *Mempool
	filter  *Filter
	mm      MatchRunner
	log     *logrus.Entry
}

// NewServer constructs a gossip server. filter may be nil (accept-all);
// mm may be nil (no matchmaker run on admission, e.g. in tests).
func NewServer(filter *Filter, mm MatchRunner) *Server {
	return &Server{
		Mempool: NewMempool(),
		filter:  filter,
		mm:      mm,
		log:     logging.For("gossip"),
	}
}

// SetMatchRunner wires (or rewires) the matchmaker run on admission. Useful
// when the matchmaker driver must itself be constructed from this server's
// Mempool (a circular wiring resolved by constructing the server first).
func (s *Server) SetMatchRunner(mm MatchRunner) { s.mm = mm }

// HandleIntentGossipMessage is the inbound entry point for one received
// wire message: decode, filter, admit, and (if wired) run the matchmaker.
// An intent rejected by the filter or a message carrying no intent variant
// is simply dropped; neither is an error condition for the caller.
func (s *Server) HandleIntentGossipMessage(raw []byte) error {
	msg, err := wireproto.DecodeIntentGossipMessage(raw)
	if err != nil {
		return fmt.Errorf("gossip: decode message: %w", err)
	}
	if msg.Intent == nil {
		return nil
	}
	return s.admit(*msg.Intent)
}

func (s *Server) admit(in wireproto.Intent) error {
	ok, err := s.filter.Apply(wireproto.EncodeIntent(in))
	if err != nil {
		return fmt.Errorf("gossip: apply filter: %w", err)
	}
	if !ok {
		s.log.Debug("intent rejected by filter")
		return nil
	}
	id := s.Mempool.Put(in)
	s.log.Debugf("admitted intent id=%s", id)
	if s.mm == nil {
		return nil
	}
	if err := s.mm.TryMatch(id, in); err != nil {
		return fmt.Errorf("gossip: matchmaker run: %w", err)
	}
	return nil
}
