// Package dispatcher selects and drives a named tracer from a typed,
// JSON-configured request, mirroring go-ethereum's eth/tracers.DefaultDirectory
// lookup-by-name convention.
package dispatcher

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	gethtracing "github.com/ethereum/go-ethereum/core/tracing"

	"github.com/flashbots/inspectors-go/supplement/fourbyte"
	"github.com/flashbots/inspectors-go/tracing"
	"github.com/flashbots/inspectors-go/tracing/builder/geth"
	"github.com/flashbots/inspectors-go/tracing/builder/parity"
	"github.com/flashbots/inspectors-go/tracing/js"
	"github.com/flashbots/inspectors-go/tracing/mux"
)

// ErrUnknownTracer is returned when Config.Type names no known tracer.
var ErrUnknownTracer = errors.New("dispatcher: unknown tracer type")

// ErrMissingConfig is returned when a tracer entry requires config that was
// not supplied.
var ErrMissingConfig = errors.New("dispatcher: missing required config")

// Config is the tagged-union request a caller sends to select a tracer.
// Config.Raw is only parsed against the schema implied by Type.
type Config struct {
	Type string
	Raw  json.RawMessage
}

// Session wraps a selected tracer: installable hooks plus a deferred result
// builder that runs once the transaction has finished executing.
type Session struct {
	hooks     *gethtracing.Hooks
	buildFn   func(pre, post tracing.Database) (interface{}, error)
	inspector *tracing.Inspector

	// txCtx is consulted only by jsTracer sessions, whose result(ctx, db)
	// needs the block hash/tx index/tx hash the arena doesn't carry.
	txCtx js.TransactionContext
}

// SetTxContext installs the transaction metadata a jsTracer's result(ctx, db)
// expects. A no-op for every other tracer type.
func (s *Session) SetTxContext(ctx js.TransactionContext) { s.txCtx = ctx }

// Hooks returns the go-ethereum hooks vtable to install for this session.
func (s *Session) Hooks() *gethtracing.Hooks { return s.hooks }

// Result builds the tracer's output against a single state view. db may be
// nil for tracers that don't need post-execution state reads (default frame,
// call frame without prestate).
func (s *Session) Result(db tracing.Database) (interface{}, error) {
	return s.buildFn(db, nil)
}

// ResultDiff builds the tracer's output against two state views: pre is read
// before the transaction applied, post after. Only prestateTracer's diff
// mode consults post; every other tracer ignores it.
func (s *Session) ResultDiff(pre, post tracing.Database) (interface{}, error) {
	return s.buildFn(pre, post)
}

// Inspector exposes the underlying arena-recording inspector, e.g. so a
// caller can install a deadline via SetDeadline before execution starts.
func (s *Session) Inspector() *tracing.Inspector { return s.inspector }

type callTracerConfig struct {
	OnlyTopCall bool `json:"onlyTopCall"`
	WithLog     bool `json:"withLog"`
}

type prestateTracerConfig struct {
	DiffMode       bool `json:"diffMode"`
	DisableCode    bool `json:"disableCode"`
	DisableStorage bool `json:"disableStorage"`
}

type flatCallTracerConfig struct {
	IncludePrecompiles  bool `json:"includePrecompiles"`
	ConvertParityErrors bool `json:"convertParityErrors"`
}

type erc7562TracerConfig struct {
	WithLog        bool     `json:"withLog"`
	IgnoredOpcodes []byte   `json:"ignoredOpcodes"`
}

type jsTracerConfig struct {
	Code   string          `json:"code"`
	Config json.RawMessage `json:"config"`
}

// New selects and constructs a tracer session for cfg.Type, validating its
// Raw payload against that tracer's own config shape before any execution
// happens.
func New(cfg Config, precompiles []common.Address) (*Session, error) {
	switch cfg.Type {
	case "noopTracer":
		return newNoopSession(), nil

	case "fourByteTracer":
		return newFourByteSession(), nil

	case "callTracer":
		var c callTracerConfig
		if err := parseConfig(cfg.Raw, &c); err != nil {
			return nil, err
		}
		return newCallTracerSession(c, precompiles), nil

	case "prestateTracer":
		var c prestateTracerConfig
		if err := parseConfig(cfg.Raw, &c); err != nil {
			return nil, err
		}
		return newPrestateSession(c, precompiles), nil

	case "flatCallTracer":
		var c flatCallTracerConfig
		if err := parseConfig(cfg.Raw, &c); err != nil {
			return nil, err
		}
		return newFlatCallSession(c, precompiles), nil

	case "erc7562Tracer":
		var c erc7562TracerConfig
		if err := parseConfig(cfg.Raw, &c); err != nil {
			return nil, err
		}
		return newErc7562Session(c, precompiles), nil

	case "muxTracer":
		return newMuxSession(cfg.Raw, precompiles)

	case "jsTracer":
		var c jsTracerConfig
		if err := parseConfig(cfg.Raw, &c); err != nil {
			return nil, err
		}
		if c.Code == "" {
			return nil, errors.Wrap(ErrMissingConfig, "dispatcher: jsTracer requires code")
		}
		return newJsSession(c)

	default:
		return nil, errors.Wrapf(ErrUnknownTracer, "%q", cfg.Type)
	}
}

func parseConfig(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrap(err, "dispatcher: invalid tracer config")
	}
	return nil
}

func newNoopSession() *Session {
	ins := tracing.NewInspector(tracing.Config{})
	return &Session{
		hooks: ins.Hooks(),
		buildFn: func(pre, post tracing.Database) (interface{}, error) {
			return struct{}{}, nil
		},
		inspector: ins,
	}
}

func newFourByteSession() *Session {
	ins := tracing.NewInspector(tracing.DefaultConfig())
	return &Session{
		hooks: ins.Hooks(),
		buildFn: func(pre, post tracing.Database) (interface{}, error) {
			return fourbyte.Counts(ins.Arena().Nodes()), nil
		},
		inspector: ins,
	}
}

func newCallTracerSession(c callTracerConfig, precompiles []common.Address) *Session {
	cfg := tracing.CallTracerConfig(c.WithLog)
	ins := tracing.NewInspector(cfg)
	ins.SetPrecompiles(precompiles)
	return &Session{
		hooks: ins.Hooks(),
		buildFn: func(pre, post tracing.Database) (interface{}, error) {
			b := geth.New(ins.Arena().Nodes())
			if c.OnlyTopCall {
				frame := b.CallFrames(c.WithLog)
				frame.Calls = nil
				return frame, nil
			}
			return b.CallFrames(c.WithLog), nil
		},
		inspector: ins,
	}
}

func newPrestateSession(c prestateTracerConfig, precompiles []common.Address) *Session {
	cfg := tracing.PrestateTracerConfig()
	ins := tracing.NewInspector(cfg)
	ins.SetPrecompiles(precompiles)
	return &Session{
		hooks: ins.Hooks(),
		buildFn: func(pre, post tracing.Database) (interface{}, error) {
			if pre == nil {
				return nil, errors.New("dispatcher: prestateTracer requires a state database")
			}
			b := geth.New(ins.Arena().Nodes())
			touched := ins.Arena().TraceAddresses()
			if !c.DiffMode {
				return b.PrestateTraces(pre, touched)
			}
			if post == nil {
				return nil, errors.New("dispatcher: prestateTracer diff mode requires both pre- and post-state, call ResultDiff")
			}
			preFrame, err := b.PrestateTraces(pre, touched)
			if err != nil {
				return nil, errors.Wrap(err, "dispatcher: reading pre-state")
			}
			postFrame, err := b.PrestateTraces(post, touched)
			if err != nil {
				return nil, errors.Wrap(err, "dispatcher: reading post-state")
			}
			created, selfDestructed := createdAndDestroyed(ins.Arena().Nodes())
			return b.PrestateDiffTraces(preFrame, postFrame, created, selfDestructed), nil
		},
		inspector: ins,
	}
}

func newFlatCallSession(c flatCallTracerConfig, precompiles []common.Address) *Session {
	cfg := tracing.DefaultParityConfig()
	cfg.ExcludePrecompileCalls = !c.IncludePrecompiles
	ins := tracing.NewInspector(cfg)
	ins.SetPrecompiles(precompiles)
	return &Session{
		hooks: ins.Hooks(),
		buildFn: func(pre, post tracing.Database) (interface{}, error) {
			b := parity.New(ins.Arena().Nodes())
			return b.Traces(), nil
		},
		inspector: ins,
	}
}

func newErc7562Session(c erc7562TracerConfig, precompiles []common.Address) *Session {
	cfg := tracing.Erc7562Config(c.WithLog)
	ins := tracing.NewInspector(cfg)
	ins.SetPrecompiles(precompiles)
	ignored := make(map[byte]bool, len(c.IgnoredOpcodes))
	for _, op := range c.IgnoredOpcodes {
		ignored[op] = true
	}
	return &Session{
		hooks: ins.Hooks(),
		buildFn: func(pre, post tracing.Database) (interface{}, error) {
			db := pre
			b := geth.New(ins.Arena().Nodes())
			codeSizeOf := func(addr common.Address) (int, error) {
				if db == nil {
					return 0, nil
				}
				info, err := db.BasicAccount(addr)
				if err != nil {
					return 0, err
				}
				if info == nil {
					return 0, nil
				}
				return len(info.Code), nil
			}
			return b.Erc7562Traces(ignored, codeSizeOf)
		},
		inspector: ins,
	}
}

func newMuxSession(raw json.RawMessage, precompiles []common.Address) (*Session, error) {
	var spec map[string]json.RawMessage
	if err := parseConfig(raw, &spec); err != nil {
		return nil, err
	}
	if len(spec) == 0 {
		return nil, errors.New("dispatcher: muxTracer requires at least one nested tracer")
	}
	var entries []mux.Entry
	for tag, inner := range spec {
		var innerCfg struct {
			Type string          `json:"type"`
			Raw  json.RawMessage `json:"config"`
		}
		if err := json.Unmarshal(inner, &innerCfg); err != nil {
			return nil, errors.Wrapf(err, "dispatcher: muxTracer entry %q", tag)
		}
		sess, err := New(Config{Type: innerCfg.Type, Raw: innerCfg.Raw}, precompiles)
		if err != nil {
			return nil, errors.Wrapf(err, "dispatcher: muxTracer entry %q", tag)
		}
		entries = append(entries, mux.Entry{Tag: tag, Inner: muxAdapter{sess}})
	}
	m := mux.New(entries)
	return &Session{
		hooks: m.Hooks(),
		buildFn: func(pre, post tracing.Database) (interface{}, error) {
			return m.GetResult()
		},
	}, nil
}

// createdAndDestroyed scans the arena for addresses that came into existence
// (successful CREATE/CREATE2) or went out of existence (SELFDESTRUCT) during
// this transaction, the two sets prestateTracer's diff mode treats specially:
// a created account has no "pre" entry, a destroyed one has no "post" entry.
func createdAndDestroyed(nodes []tracing.CallTraceNode) (created, selfDestructed map[common.Address]bool) {
	created = map[common.Address]bool{}
	selfDestructed = map[common.Address]bool{}
	for i := range nodes {
		n := &nodes[i]
		if n.Trace.Kind.IsCreate() && n.Trace.Success {
			created[n.Trace.Address] = true
		}
		if n.IsSelfDestruct() {
			selfDestructed[n.Trace.SelfDestructAddress] = true
		}
	}
	return created, selfDestructed
}

func newJsSession(c jsTracerConfig) (*Session, error) {
	var cfgVal interface{}
	if len(c.Config) > 0 {
		if err := json.Unmarshal(c.Config, &cfgVal); err != nil {
			return nil, errors.Wrap(err, "dispatcher: invalid jsTracer config")
		}
	}
	jsIns, err := js.New(c.Code, cfgVal)
	if err != nil {
		return nil, errors.Wrap(err, "dispatcher: compiling jsTracer")
	}
	sess := &Session{hooks: jsIns.Hooks()}
	sess.buildFn = func(pre, post tracing.Database) (interface{}, error) {
		return jsIns.Result(sess.txCtx, pre)
	}
	return sess, nil
}

// muxAdapter satisfies mux.Tracer by delegating to a dispatcher Session.
type muxAdapter struct{ s *Session }

func (a muxAdapter) Hooks() *gethtracing.Hooks { return a.s.hooks }
func (a muxAdapter) GetResult() (interface{}, error) {
	return a.s.buildFn(nil, nil)
}
