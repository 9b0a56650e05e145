package shell

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"vpledger/internal/ledgererr"
	"vpledger/internal/smt"
	"vpledger/pkg/logging"
)

// CommandKind tags a consensus-host command on the channel protocol.
type CommandKind int

const (
	CmdGetInfo CommandKind = iota
	CmdInitChain
	CmdMempoolValidate
	CmdBeginBlock
	CmdApplyTx
	CmdEndBlock
	CmdCommitBlock
	CmdAbciQuery
	CmdTerminate
)

// Command is one message on the single-producer/single-consumer command
// channel: the consensus host sends Command and blocks on Reply until the
// shell replies, yielding serial deterministic block application.
type Command struct {
	Kind CommandKind

	// InitChain. Seed keys are wire-form key strings.
	ChainID string
	Seeds   map[string][]byte

	// MempoolValidate
	TxBytes      []byte
	ValidateKind ValidateKind

	// BeginBlock
	BlockHash   common.Hash
	BlockHeight uint64

	// AbciQuery
	QueryPath string

	Reply chan Reply
}

// Reply is the one-shot response to a Command; which fields beyond Err are
// populated depends on Kind (e.g. ApplyTx sets both GasUsed and TxResult).
type Reply struct {
	Err error

	Info     *InfoResult
	TxResult TxResult
	GasUsed  uint64
	Root     smt.H256
	Query    string
}

// InfoResult answers GetInfo: the last committed (root, height), or ok=false
// before any block has been committed.
type InfoResult struct {
	Root   smt.H256
	Height uint64
	OK     bool
}

// Host runs the shell's command-channel consumer loop: one goroutine
// reading Commands serially, replying on each Command's own channel. The
// consensus host and the shell run on separate threads and communicate
// exclusively through this channel; Host is the consumer side, owned
// entirely by one goroutine.
type Host struct {
	shell     *Shell
	validator MempoolValidator
	commands  chan Command
	log       *logrus.Entry
}

// NewHost constructs a command loop over shell. validator defaults to
// StructuralValidator if nil.
func NewHost(shell *Shell, validator MempoolValidator) *Host {
	if validator == nil {
		validator = StructuralValidator{}
	}
	return &Host{
		shell:     shell,
		validator: validator,
		commands:  make(chan Command),
		log:       logging.For("shell_host"),
	}
}

// Commands returns the channel callers (the consensus host) send Commands
// on. Each Command must carry its own Reply channel.
func (h *Host) Commands() chan<- Command { return h.commands }

// Run consumes commands until a Terminate is received (Terminate carries no
// reply) or until a fatal error kind (storage, channel) is hit.
func (h *Host) Run() {
	for cmd := range h.commands {
		if cmd.Kind == CmdTerminate {
			h.log.Info("Terminate received, exiting command loop")
			return
		}
		reply := h.dispatch(cmd)
		if cmd.Reply != nil {
			cmd.Reply <- reply
		}
		if reply.Err != nil && ledgererr.Classify(reply.Err).Fatal() {
			h.log.Errorf("fatal error, terminating session: %v", reply.Err)
			return
		}
	}
}

func (h *Host) dispatch(cmd Command) Reply {
	switch cmd.Kind {
	case CmdGetInfo:
		return h.handleGetInfo()
	case CmdInitChain:
		err := h.shell.InitChain(cmd.ChainID, cmd.Seeds)
		return Reply{Err: err}
	case CmdMempoolValidate:
		err := h.validator.Validate(cmd.TxBytes, cmd.ValidateKind)
		return Reply{Err: err}
	case CmdBeginBlock:
		err := h.shell.BeginBlock(cmd.BlockHash, cmd.BlockHeight)
		return Reply{Err: err}
	case CmdApplyTx:
		gasUsed, res, err := h.shell.ApplyTx(cmd.TxBytes)
		return Reply{Err: err, GasUsed: gasUsed, TxResult: res}
	case CmdEndBlock:
		err := h.shell.EndBlock(cmd.BlockHeight)
		return Reply{Err: err}
	case CmdCommitBlock:
		root, err := h.shell.Commit()
		return Reply{Err: err, Root: root}
	case CmdAbciQuery:
		return h.handleAbciQuery(cmd)
	default:
		return Reply{Err: fmt.Errorf("shell: unknown command kind %d", cmd.Kind)}
	}
}

func (h *Host) handleGetInfo() Reply {
	root, height, ok := h.shell.st.LastCommitted()
	return Reply{Info: &InfoResult{Root: root, Height: height, OK: ok}}
}

// handleAbciQuery implements only path="dry_run_tx"; every other path is a
// no-op.
func (h *Host) handleAbciQuery(cmd Command) Reply {
	if cmd.QueryPath != "dry_run_tx" {
		return Reply{Query: ""}
	}
	gasUsed, res, err := h.shell.DryRunTx(cmd.TxBytes)
	if err != nil {
		return Reply{Err: err, GasUsed: gasUsed, TxResult: res}
	}
	return Reply{GasUsed: gasUsed, TxResult: res, Query: fmt.Sprintf("gas_used=%d accepted=%v accepted_vps=%v rejected_vps=%v errors=%v",
		gasUsed, res.Accepted, res.AcceptedVPs, res.RejectedVPs, res.Errors)}
}
