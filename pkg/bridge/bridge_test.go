package bridge

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soypete/llamabridge/pkg/chat"
	"github.com/soypete/llamabridge/pkg/chattemplate"
	"github.com/soypete/llamabridge/pkg/handle"
	"github.com/soypete/llamabridge/pkg/metrics"
	"github.com/soypete/llamabridge/pkg/toolformat"
)

const hiRequest = `{"messages":[{"role":"user","content":"hi"}]}`

func model(t *testing.T, builtin string) *chattemplate.StaticModel {
	t.Helper()
	src, ok := chattemplate.Builtin(builtin)
	require.True(t, ok)
	return &chattemplate.StaticModel{
		ModelName: builtin,
		Templates: map[string]string{"": src},
		BOS:       "<s>",
		EOS:       "</s>",
	}
}

func compiled(t *testing.T, b *Bridge, builtin, payload string) (handle.Handle, handle.Handle) {
	t.Helper()
	tmpl, err := b.TemplatesInit(model(t, builtin), "")
	require.NoError(t, err)
	params, err := b.Compile(tmpl, []byte(payload))
	require.NoError(t, err)
	return tmpl, params
}

func TestContentOnlyScenario(t *testing.T) {
	b := New()
	tmpl, params := compiled(t, b, "chatml", hiRequest)

	code, err := b.ParamsFormat(params)
	require.NoError(t, err)
	assert.Equal(t, toolformat.FormatContentOnly.Code(), code)

	n, err := b.PromptLength(params)
	require.NoError(t, err)
	assert.Positive(t, n)

	out, err := b.ParseResponse("hello there", code)
	require.NoError(t, err)
	assert.Equal(t, `{"role":"assistant","content":"hello there","tool_calls":[],"tool_plan":null}`, out)

	require.NoError(t, b.ParamsFree(params))
	require.NoError(t, b.TemplatesFree(tmpl))
}

func TestPromptRetrieval(t *testing.T) {
	b := New()
	_, params := compiled(t, b, "chatml", hiRequest)

	first, err := b.PromptLength(params)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		n, err := b.PromptLength(params)
		require.NoError(t, err)
		assert.Equal(t, first, n)
	}

	prompt, err := b.Prompt(params)
	require.NoError(t, err)
	assert.Len(t, prompt, first)

	buf := make([]byte, first+1)
	n, err := b.PromptFill(params, buf)
	require.NoError(t, err)
	assert.Equal(t, first, n)
	assert.Equal(t, prompt, string(buf[:n]))
	assert.Equal(t, byte(0), buf[n])

	small := make([]byte, first)
	_, err = b.PromptFill(params, small)
	var tooSmall *BufferTooSmallError
	require.True(t, errors.As(err, &tooSmall))
	assert.Equal(t, first+1, tooSmall.Required)
	assert.Equal(t, make([]byte, first), small, "undersized buffer must stay untouched")
}

func TestParseResponseInto(t *testing.T) {
	b := New()
	code := toolformat.FormatHermes2Pro.Code()
	text := "<tool_call>\n{\"name\": \"get_weather\", \"arguments\": {\"city\":\"Paris\"}}\n</tool_call>"

	want, err := b.ParseResponse(text, code)
	require.NoError(t, err)

	buf := make([]byte, len(want)+1)
	n, err := b.ParseResponseInto(text, code, buf)
	require.NoError(t, err)
	assert.Equal(t, want, string(buf[:n]))

	_, err = b.ParseResponseInto(text, code, buf[:len(want)])
	var tooSmall *BufferTooSmallError
	assert.True(t, errors.As(err, &tooSmall))
}

func TestParseResponseErrors(t *testing.T) {
	b := New()

	_, err := b.ParseResponse("x", int32(len(toolformat.All())))
	assert.ErrorIs(t, err, toolformat.ErrUnknownFormat, "the count sentinel is never a valid format")
	_, err = b.ParseResponse("x", -1)
	assert.ErrorIs(t, err, toolformat.ErrUnknownFormat)

	_, err = b.ParseResponse("<tool_call>{\"name\": \"f\"", toolformat.FormatHermes2Pro.Code())
	assert.ErrorIs(t, err, toolformat.ErrParse)
}

func TestParseRecordsMetrics(t *testing.T) {
	b := New()
	hermes := toolformat.FormatHermes2Pro
	ok := metrics.ParsesTotal.WithLabelValues(hermes.String(), metrics.OutcomeOK)
	failed := metrics.ParsesTotal.WithLabelValues(hermes.String(), metrics.OutcomeError)
	calls := metrics.ToolCallsTotal.WithLabelValues(hermes.String())
	okBefore, failedBefore, callsBefore := testutil.ToFloat64(ok), testutil.ToFloat64(failed), testutil.ToFloat64(calls)

	_, err := b.ParseResponse(`<tool_call>{"name": "f", "arguments": {}}</tool_call>`, hermes.Code())
	require.NoError(t, err)
	_, err = b.ParseResponse(`<tool_call>{"name": "f"`, hermes.Code())
	require.Error(t, err)

	assert.Equal(t, okBefore+1, testutil.ToFloat64(ok))
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(failed))
	assert.Equal(t, callsBefore+1, testutil.ToFloat64(calls))
}

func TestToolCallIDAssignment(t *testing.T) {
	n := 0
	b := New(WithToolCallIDs(func() string { n++; return fmt.Sprintf("call_%d", n) }))

	msg, err := b.ParseMessage(`{"name": "get_weather", "parameters": {"city":"Paris"}}`, toolformat.FormatLlama3X.Code())
	require.NoError(t, err)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "call_1", msg.ToolCalls[0].ID)

	msg, err = b.ParseMessage(`[TOOL_CALLS][{"name": "f", "arguments": {}, "id": "keepme123"}]`, toolformat.FormatMistralNemo.Code())
	require.NoError(t, err)
	assert.Equal(t, "keepme123", msg.ToolCalls[0].ID)

	u := New(WithUUIDToolCallIDs())
	msg, err = u.ParseMessage(`{"name": "get_weather", "parameters": {}}`, toolformat.FormatLlama3X.Code())
	require.NoError(t, err)
	assert.Len(t, msg.ToolCalls[0].ID, 36)
}

func TestHandleMisuse(t *testing.T) {
	b := New()
	tmpl, params := compiled(t, b, "chatml", hiRequest)

	_, err := b.PromptLength(tmpl)
	assert.ErrorIs(t, err, handle.ErrKindMismatch)
	_, err = b.PromptLength(0)
	assert.ErrorIs(t, err, handle.ErrInvalid)

	require.NoError(t, b.ParamsFree(params))
	_, err = b.PromptLength(params)
	assert.ErrorIs(t, err, handle.ErrStale, "use after free")
	assert.ErrorIs(t, b.ParamsFree(params), handle.ErrStale, "double free")

	require.NoError(t, b.TemplatesFree(tmpl))
	assert.ErrorIs(t, b.TemplatesFree(tmpl), handle.ErrStale)
	_, err = b.Compile(tmpl, []byte(hiRequest))
	assert.ErrorIs(t, err, handle.ErrStale)
}

func TestTemplatesInUse(t *testing.T) {
	b := New()
	tmpl, p1 := compiled(t, b, "chatml", hiRequest)
	p2, err := b.Compile(tmpl, []byte(hiRequest))
	require.NoError(t, err)

	assert.ErrorIs(t, b.TemplatesFree(tmpl), ErrTemplatesInUse)
	require.NoError(t, b.ParamsFree(p1))
	assert.ErrorIs(t, b.TemplatesFree(tmpl), ErrTemplatesInUse)
	require.NoError(t, b.ParamsFree(p2))
	require.NoError(t, b.TemplatesFree(tmpl))
}

func TestCompileFailureDoesNotBorrow(t *testing.T) {
	b := New()
	tmpl, err := b.TemplatesInit(model(t, "chatml"), "")
	require.NoError(t, err)

	_, err = b.Compile(tmpl, []byte(`{"messages":[]}`))
	assert.ErrorIs(t, err, chat.ErrEmptyMessages)
	_, err = b.Compile(tmpl, []byte(`{"tools":[]}`))
	assert.Error(t, err)

	require.NoError(t, b.TemplatesFree(tmpl))
	assert.Equal(t, 0, b.Live()["chat params"])
}

func TestTemplatesInitUnresolvable(t *testing.T) {
	b := New()
	_, err := b.TemplatesInit(&chattemplate.StaticModel{ModelName: "bare"}, "")
	assert.ErrorIs(t, err, chattemplate.ErrUnresolvableTemplate)

	tmpl, err := b.TemplatesInit(&chattemplate.StaticModel{ModelName: "bare"}, "hermes-2-pro")
	require.NoError(t, err)
	caps, err := b.TemplatesCapabilities(tmpl)
	require.NoError(t, err)
	assert.True(t, caps.ToolUse)
	assert.Equal(t, toolformat.FormatHermes2Pro, caps.Format)
}

func TestConcurrentCompile(t *testing.T) {
	b := New()
	tmpl, err := b.TemplatesInit(model(t, "hermes-2-pro"), "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	handles := make([]handle.Handle, 16)
	errs := make([]error, 16)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = b.Compile(tmpl, []byte(hiRequest))
		}(i)
	}
	wg.Wait()

	for i, h := range handles {
		require.NoError(t, errs[i])
		require.NoError(t, b.ParamsFree(h))
	}
	require.NoError(t, b.TemplatesFree(tmpl))
}

func TestNgramCacheLifecycle(t *testing.T) {
	b := New()
	ctx := b.NgramCacheInit()
	dyn := b.NgramCacheInit()
	static := b.NgramCacheInit()

	inp := []int32{1, 2, 3, 1, 2, 3, 1, 2}
	require.NoError(t, b.NgramCacheUpdate(ctx, 1, 4, inp, len(inp)))

	draft, err := b.NgramCacheDraft(inp, []int32{2}, 2, 1, 4, ctx, dyn, static)
	require.NoError(t, err)
	assert.Equal(t, []int32{2, 3, 1}, draft)

	path := filepath.Join(t.TempDir(), "ctx.bin")
	require.NoError(t, b.NgramCacheSave(ctx, path))
	loaded, err := b.NgramCacheLoad(path)
	require.NoError(t, err)
	require.NoError(t, b.NgramCacheMerge(dyn, loaded))

	draft, err = b.NgramCacheDraft(inp, []int32{2}, 2, 1, 4, static, dyn, static)
	require.NoError(t, err)
	assert.Equal(t, []int32{2}, draft)

	for _, h := range []handle.Handle{ctx, dyn, static, loaded} {
		require.NoError(t, b.NgramCacheFree(h))
	}
	assert.ErrorIs(t, b.NgramCacheFree(ctx), handle.ErrStale)
	_, err = b.NgramCacheLoad(filepath.Join(t.TempDir(), "missing.bin"))
	assert.Error(t, err)
}
