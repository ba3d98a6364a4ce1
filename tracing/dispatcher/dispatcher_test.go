package dispatcher

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashbots/inspectors-go/tracing"
	"github.com/flashbots/inspectors-go/tracing/builder/geth"
)

func TestNewRejectsUnknownTracer(t *testing.T) {
	_, err := New(Config{Type: "notARealTracer"}, nil)
	require.Error(t, err)
}

func TestNewRejectsInvalidCallTracerConfig(t *testing.T) {
	_, err := New(Config{Type: "callTracer", Raw: json.RawMessage(`{"onlyTopCall": "not a bool"}`)}, nil)
	require.Error(t, err)
}

func TestNoopSessionProducesEmptyResult(t *testing.T) {
	sess, err := New(Config{Type: "noopTracer"}, nil)
	require.NoError(t, err)
	res, err := sess.Result(nil)
	require.NoError(t, err)
	assert.Equal(t, struct{}{}, res)
}

func runSimpleCall(sess *Session) {
	caller := common.HexToAddress("0x1111111111111111111111111111111111111111")
	callee := common.HexToAddress("0x2222222222222222222222222222222222222222")
	hooks := sess.Hooks()
	hooks.OnEnter(0, byte(vm.CALL), caller, callee, []byte{0x01, 0x02, 0x03, 0x04, 0x05}, 100000, big.NewInt(1))
	hooks.OnExit(0, nil, 1000, nil, false)
}

func TestFourByteSessionCountsSelectors(t *testing.T) {
	sess, err := New(Config{Type: "fourByteTracer"}, nil)
	require.NoError(t, err)
	runSimpleCall(sess)

	res, err := sess.Result(nil)
	require.NoError(t, err)
	counts, ok := res.(map[string]int)
	require.True(t, ok, "expected map[string]int result, got %T", res)
	assert.Len(t, counts, 1)
}

func TestCallTracerOnlyTopCallDropsChildren(t *testing.T) {
	sess, err := New(Config{Type: "callTracer", Raw: json.RawMessage(`{"onlyTopCall": true}`)}, nil)
	require.NoError(t, err)
	caller := common.HexToAddress("0x1111111111111111111111111111111111111111")
	callee := common.HexToAddress("0x2222222222222222222222222222222222222222")
	inner := common.HexToAddress("0x3333333333333333333333333333333333333333")
	hooks := sess.Hooks()
	hooks.OnEnter(0, byte(vm.CALL), caller, callee, nil, 100000, big.NewInt(0))
	hooks.OnEnter(1, byte(vm.CALL), callee, inner, nil, 5000, big.NewInt(0))
	hooks.OnExit(1, nil, 100, nil, false)
	hooks.OnExit(0, nil, 200, nil, false)

	res, err := sess.Result(nil)
	require.NoError(t, err)
	frame, ok := res.(*geth.CallFrame)
	require.True(t, ok, "expected *geth.CallFrame, got %T", res)
	assert.Nil(t, frame.Calls)
}

func TestPrestateDiffModeRequiresResultDiff(t *testing.T) {
	sess, err := New(Config{Type: "prestateTracer", Raw: json.RawMessage(`{"diffMode": true}`)}, nil)
	require.NoError(t, err)
	runSimpleCall(sess)

	db := &fakeDatabase{}
	_, err = sess.Result(db)
	assert.Error(t, err, "expected an error calling Result (single view) in diff mode")

	_, err = sess.ResultDiff(db, db)
	assert.NoError(t, err)
}

func TestPrestateRequiresADatabase(t *testing.T) {
	sess, err := New(Config{Type: "prestateTracer"}, nil)
	require.NoError(t, err)
	_, err = sess.Result(nil)
	assert.Error(t, err)
}

func TestMuxSessionDispatchesToNestedTracersByTag(t *testing.T) {
	raw := json.RawMessage(`{
		"calls": {"type": "callTracer", "config": {}},
		"fourByte": {"type": "fourByteTracer"}
	}`)
	sess, err := New(Config{Type: "muxTracer", Raw: raw}, nil)
	require.NoError(t, err)
	runSimpleCall(sess)

	res, err := sess.Result(nil)
	require.NoError(t, err)
	out, ok := res.(map[string]interface{})
	require.True(t, ok, "expected map[string]interface{} result, got %T", res)
	assert.Contains(t, out, "calls")
	assert.Contains(t, out, "fourByte")
}

func TestMuxSessionRejectsEmptyConfig(t *testing.T) {
	_, err := New(Config{Type: "muxTracer", Raw: json.RawMessage(`{}`)}, nil)
	require.Error(t, err)
}

func TestJsTracerRequiresCode(t *testing.T) {
	_, err := New(Config{Type: "jsTracer", Raw: json.RawMessage(`{}`)}, nil)
	require.Error(t, err)
}

type fakeDatabase struct{}

func (d *fakeDatabase) BasicAccount(addr common.Address) (*tracing.AccountInfo, error) {
	return nil, nil
}
func (d *fakeDatabase) CodeByHash(common.Hash) ([]byte, error) { return nil, nil }
func (d *fakeDatabase) StorageAt(common.Address, common.Hash) (common.Hash, error) {
	return common.Hash{}, nil
}
func (d *fakeDatabase) BlockHash(uint64) (common.Hash, error) { return common.Hash{}, nil }
