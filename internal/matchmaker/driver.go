// Package matchmaker implements the matchmaker WASM driver: a bounded
// outbound command channel and the apply-after-run discipline for
// InjectTx/RemoveIntents/UpdateData.
package matchmaker

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"vpledger/internal/gossip"
	"vpledger/internal/hostenv"
	"vpledger/internal/shell"
	"vpledger/internal/wasmvm"
	"vpledger/internal/wireproto"
	"vpledger/pkg/logging"
)

// outboundCapacity is the matchmaker command channel's default capacity.
const outboundCapacity = 100

// Options tunes a Driver beyond its required collaborators.
type Options struct {
	// State seeds the matchmaker's opaque state blob, passed into every
	// WASM run and replaced by UpdateData commands.
	State []byte
	// OutboundCapacity overrides the command channel capacity; 0 means the
	// default of 100.
	OutboundCapacity int
	// PanicOnRunnerError makes a failed matchmaker WASM run panic instead
	// of rejecting the intent attempt and continuing.
	PanicOnRunnerError bool
}

// Outbound is one command dispatched to the node for application after a
// matchmaker run returns, tagged with a correlation id for tracing one run
// through logs.
type Outbound struct {
	CorrelationID string
	Command       hostenv.MMCommand
}

// Driver runs one compiled matchmaker WASM module against newly admitted
// intents and applies the commands it emits. It implements
// gossip.MatchRunner.
type Driver struct {
	mod    *wasmvm.Module
	txCode []byte // the wasm code bytes InjectTx's Tx envelope carries
	state  []byte // opaque matchmaker state, replaced by UpdateData

	signPub  ed25519.PublicKey
	signPriv ed25519.PrivateKey

	panicOnRunnerError bool

	mempool *gossip.Mempool
	host    *shell.Host

	out chan Outbound
	log *logrus.Entry
}

// New constructs a matchmaker driver. code is the matchmaker's own
// compiled WASM (entrypoint "match_intent"); txCode is the wasm code bytes
// used for the Tx envelope InjectTx commands are wrapped in; signPriv is
// the matchmaker's own stable Ed25519 key used to sign injected tx data.
func New(code, txCode []byte, signPub ed25519.PublicKey, signPriv ed25519.PrivateKey, mempool *gossip.Mempool, host *shell.Host, opts Options) (*Driver, error) {
	mod, err := wasmvm.Compile(code)
	if err != nil {
		return nil, fmt.Errorf("matchmaker: compile: %w", err)
	}
	capacity := opts.OutboundCapacity
	if capacity <= 0 {
		capacity = outboundCapacity
	}
	return &Driver{
		mod:                mod,
		txCode:             txCode,
		state:              append([]byte(nil), opts.State...),
		signPub:            signPub,
		signPriv:           signPriv,
		panicOnRunnerError: opts.PanicOnRunnerError,
		mempool:            mempool,
		host:               host,
		out:                make(chan Outbound, capacity),
		log:                logging.For("matchmaker"),
	}, nil
}

// Outbound exposes the bounded command channel for a consumer goroutine
// (e.g. cmd/ledgerd's wiring) to drain.
func (d *Driver) Outbound() <-chan Outbound { return d.out }

// send is a non-blocking channel send: a full channel means the consumer
// has stalled, which is treated as a programmer error rather than silently
// dropping a command.
func (d *Driver) send(cmd hostenv.MMCommand) {
	ob := Outbound{CorrelationID: uuid.NewString(), Command: cmd}
	select {
	case d.out <- ob:
	default:
		panic(fmt.Sprintf("matchmaker: outbound command channel saturated (capacity %d)", cap(d.out)))
	}
}

// TryMatch runs the matchmaker WASM with (state, intent_id, intent_data)
// for a newly admitted intent, then applies every command it emitted.
// A failed run either rejects the attempt and continues or panics,
// depending on Options.PanicOnRunnerError.
func (d *Driver) TryMatch(intentID string, newIntent wireproto.Intent) error {
	if err := d.runMatch(intentID, newIntent); err != nil {
		if d.panicOnRunnerError {
			panic(fmt.Sprintf("matchmaker: runner error: %v", err))
		}
		d.log.Errorf("matchmaker run rejected intent %s: %v", intentID, err)
	}
	return nil
}

func (d *Driver) runMatch(intentID string, newIntent wireproto.Intent) error {
	mmHost := hostenv.NewMMHost()
	imports := mmHost.BuildImports(d.mod.Store())
	inst, err := d.mod.Instantiate(imports)
	if err != nil {
		return fmt.Errorf("matchmaker: instantiate: %w", err)
	}
	mmHost.BindMemory(inst)

	// The three arguments live back to back in guest memory, each located
	// by its own (ptr,len) pair.
	payload := wireproto.EncodeIntent(newIntent)
	statePtr := int32(0)
	idPtr := statePtr + int32(len(d.state))
	dataPtr := idPtr + int32(len(intentID))
	for _, blob := range []struct {
		ptr  int32
		data []byte
	}{
		{statePtr, d.state},
		{idPtr, []byte(intentID)},
		{dataPtr, payload},
	} {
		if len(blob.data) == 0 {
			continue
		}
		if err := inst.WriteBytes(blob.ptr, blob.data); err != nil {
			return fmt.Errorf("matchmaker: write guest memory: %w", err)
		}
	}
	if _, err := inst.CallEntrypointArgs("match_intent",
		statePtr, int32(len(d.state)),
		idPtr, int32(len(intentID)),
		dataPtr, int32(len(payload))); err != nil {
		return fmt.Errorf("matchmaker: match_intent trapped: %w", err)
	}

	// Commands emitted during the run are applied only after it returns.
	for _, cmd := range mmHost.Commands {
		if err := d.apply(cmd); err != nil {
			d.log.Errorf("apply matchmaker command: %v", err)
		}
	}
	return nil
}

func (d *Driver) apply(cmd hostenv.MMCommand) error {
	switch cmd.Kind {
	case hostenv.MMInjectTx:
		return d.applyInjectTx(cmd.TxData)
	case hostenv.MMRemoveIntents:
		d.mempool.RemoveAll(cmd.IntentIDs)
		d.send(cmd)
		return nil
	case hostenv.MMUpdateData:
		d.state = append([]byte(nil), cmd.State...)
		d.send(cmd)
		return nil
	default:
		return fmt.Errorf("matchmaker: unknown command kind %d", cmd.Kind)
	}
}

// applyInjectTx builds a SignedTxData over cmd data, signs it with the
// matchmaker's stable key, wraps it in a Tx envelope carrying the
// matchmaker's designated tx code, and submits it to the consensus host as
// a CmdApplyTx on the shell's command channel, blocking on the reply.
func (d *Driver) applyInjectTx(data []byte) error {
	sig := ed25519.Sign(d.signPriv, data)
	signed := wireproto.SignedTxData{Data: data, Signature: sig, PublicKey: d.signPub}
	tx := wireproto.Tx{
		Code:      d.txCode,
		Data:      wireproto.EncodeSignedTxData(signed),
		Timestamp: time.Now().UnixNano(),
	}
	txBytes := wireproto.EncodeTx(tx)

	reply := make(chan shell.Reply, 1)
	d.host.Commands() <- shell.Command{Kind: shell.CmdApplyTx, TxBytes: txBytes, Reply: reply}
	r := <-reply
	if r.Err != nil {
		return fmt.Errorf("matchmaker: broadcast injected tx: %w", r.Err)
	}
	d.send(hostenv.MMCommand{Kind: hostenv.MMInjectTx, TxData: data})
	return nil
}
