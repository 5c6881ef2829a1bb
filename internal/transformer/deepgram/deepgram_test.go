package internal_transformer_deepgram

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	"github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_config "github.com/rapidaai/sav-voicebot/internal/config"
	"github.com/rapidaai/sav-voicebot/pkg/commons"
)

func testConfig() *internal_config.Config {
	return &internal_config.Config{
		DeepgramAPIKey:          "test-key",
		DeepgramModel:           "nova-2",
		DeepgramLanguage:        "fr",
		DeepgramEncoding:        "linear16",
		DeepgramSampleRate:      8000,
		STTEndpointingDefaultMs: 1200,
		STTEndpointingShortMs:   500,
	}
}

type fakeLiveClient struct {
	connectOK bool
	written   [][]byte
	finalized int
	stopped   int
}

func (f *fakeLiveClient) Connect() bool { return f.connectOK }
func (f *fakeLiveClient) WriteBinary(b []byte) error {
	f.written = append(f.written, b)
	return nil
}
func (f *fakeLiveClient) Finalize() error { f.finalized++; return nil }
func (f *fakeLiveClient) Stop()           { f.stopped++ }

// stubClient reroutes session creation onto a fake and returns it.
func stubClient(t *testing.T, connectOK bool) (*fakeLiveClient, *[]Mode) {
	t.Helper()
	fake := &fakeLiveClient{connectOK: connectOK}
	var modes []Mode
	orig := newLiveClient
	newLiveClient = func(_ context.Context, _ string, tOptions *interfaces.LiveTranscriptionOptions, _ msginterfaces.LiveMessageCallback) (liveClient, error) {
		if tOptions.Endpointing == "500" {
			modes = append(modes, ModeYesNo)
		} else {
			modes = append(modes, ModeOpen)
		}
		return fake, nil
	}
	t.Cleanup(func() { newLiveClient = orig })
	return fake, &modes
}

// --- Options Tests ---

func TestOptionsOpenMode(t *testing.T) {
	tr := NewTranscriber(commons.NewNopLogger(), testConfig(), []string{"livebox:2"})
	opts := tr.Options(ModeOpen)

	assert.Equal(t, "nova-2", opts.Model)
	assert.Equal(t, "fr", opts.Language)
	assert.Equal(t, "linear16", opts.Encoding)
	assert.Equal(t, 8000, opts.SampleRate)
	assert.Equal(t, 1, opts.Channels)
	assert.True(t, opts.InterimResults)
	assert.True(t, opts.Punctuate)
	assert.True(t, opts.VadEvents)
	assert.Equal(t, "1200", opts.Endpointing)
	assert.Equal(t, []string{"livebox:2"}, opts.Keywords)
}

func TestOptionsYesNoMode(t *testing.T) {
	tr := NewTranscriber(commons.NewNopLogger(), testConfig(), nil)
	assert.Equal(t, "500", tr.Options(ModeYesNo).Endpointing)
}

// --- Session Lifecycle Tests ---

func TestStartAndSend(t *testing.T) {
	fake, _ := stubClient(t, true)
	tr := NewTranscriber(commons.NewNopLogger(), testConfig(), nil)

	require.NoError(t, tr.Start(context.Background(), ModeOpen))
	assert.True(t, tr.Active())
	assert.Equal(t, ModeOpen, tr.Mode())

	require.NoError(t, tr.Send(make([]byte, 320)))
	assert.Len(t, fake.written, 1)

	require.NoError(t, tr.Finalize())
	assert.Equal(t, 1, fake.finalized)

	tr.Stop()
	assert.False(t, tr.Active())
	assert.Equal(t, 1, fake.stopped)
	tr.Stop() // idempotent
	assert.Equal(t, 1, fake.stopped)
}

func TestStartConnectFailure(t *testing.T) {
	_, _ = stubClient(t, false)
	tr := NewTranscriber(commons.NewNopLogger(), testConfig(), nil)

	err := tr.Start(context.Background(), ModeOpen)
	assert.Error(t, err)
	assert.False(t, tr.Active())
	// the call keeps going: sends are silently dropped
	assert.NoError(t, tr.Send(make([]byte, 320)))
	assert.NoError(t, tr.Finalize())
}

func TestSetModeRecreatesSession(t *testing.T) {
	fake, modes := stubClient(t, true)
	tr := NewTranscriber(commons.NewNopLogger(), testConfig(), nil)
	ctx := context.Background()

	require.NoError(t, tr.Start(ctx, ModeOpen))
	require.NoError(t, tr.SetMode(ctx, ModeOpen))
	assert.Len(t, *modes, 1, "same mode must not reconnect")

	require.NoError(t, tr.SetMode(ctx, ModeYesNo))
	assert.Equal(t, []Mode{ModeOpen, ModeYesNo}, *modes)
	assert.Equal(t, 1, fake.stopped, "previous session must be stopped")
	assert.Equal(t, ModeYesNo, tr.Mode())
}

// --- Event Sink Tests ---

func TestSinkDeliversTranscripts(t *testing.T) {
	tr := NewTranscriber(commons.NewNopLogger(), testConfig(), nil)
	sink := &eventSink{logger: commons.NewNopLogger(), transcripts: tr.transcripts, speechStarted: tr.speechStarted}

	mr := &msginterfaces.MessageResponse{}
	mr.IsFinal = true
	mr.Channel.Alternatives = []msginterfaces.Alternative{{Transcript: "bonjour"}}
	require.NoError(t, sink.Message(mr))

	got := <-tr.Transcripts()
	assert.Equal(t, "bonjour", got.Text)
	assert.True(t, got.Final)
}

func TestSinkSkipsEmptyTranscripts(t *testing.T) {
	tr := NewTranscriber(commons.NewNopLogger(), testConfig(), nil)
	sink := &eventSink{logger: commons.NewNopLogger(), transcripts: tr.transcripts, speechStarted: tr.speechStarted}

	require.NoError(t, sink.Message(nil))
	empty := &msginterfaces.MessageResponse{}
	empty.Channel.Alternatives = []msginterfaces.Alternative{{Transcript: ""}}
	require.NoError(t, sink.Message(empty))
	assert.Empty(t, tr.transcripts)
}

func TestSinkCoalescesSpeechStarted(t *testing.T) {
	tr := NewTranscriber(commons.NewNopLogger(), testConfig(), nil)
	sink := &eventSink{logger: commons.NewNopLogger(), transcripts: tr.transcripts, speechStarted: tr.speechStarted}

	for i := 0; i < 5; i++ {
		require.NoError(t, sink.SpeechStarted(nil))
	}
	assert.Len(t, tr.speechStarted, 1)
}

// --- Keyword Tests ---

func TestValidateKeyword(t *testing.T) {
	for _, entry := range []string{"livebox:1", "routeur:2", "décodeur:3"} {
		assert.NoError(t, ValidateKeyword(entry), entry)
	}
	for _, entry := range []string{"livebox", "livebox:0", "livebox:4", ":2", "livebox:abc", ""} {
		assert.Error(t, ValidateKeyword(entry), entry)
	}
}

func TestLoadKeywordsSkipsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stt_keywords.yaml")
	content := "keywords:\n  - \"livebox:3\"\n  - \"fibre:0\"\n  - \"wifi:2\"\n  - \"orange:4\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	kws, err := LoadKeywords(commons.NewNopLogger(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"livebox:3", "wifi:2"}, kws)
}

func TestLoadKeywordsMissingFile(t *testing.T) {
	kws, err := LoadKeywords(commons.NewNopLogger(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.NoError(t, err)
	assert.Empty(t, kws)
}
