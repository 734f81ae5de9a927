package openai

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/livetalk/pkg/provider/stt"
)

// transcriptionRequest is what the fake endpoint saw.
type transcriptionRequest struct {
	model    string
	language string
	prompt   string
	file     []byte
	filename string
}

func fakeTranscriptionServer(t *testing.T, reply string, status int) (*httptest.Server, <-chan transcriptionRequest) {
	t.Helper()
	reqs := make(chan transcriptionRequest, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		var got transcriptionRequest
		got.model = r.FormValue("model")
		got.language = r.FormValue("language")
		got.prompt = r.FormValue("prompt")
		f, hdr, err := r.FormFile("file")
		if err == nil {
			got.file, _ = io.ReadAll(f)
			got.filename = hdr.Filename
			_ = f.Close()
		}
		reqs <- got

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			_ = json.NewEncoder(w).Encode(map[string]string{"text": reply})
		} else {
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "bad audio"}})
		}
	}))
	t.Cleanup(srv.Close)
	return srv, reqs
}

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New("", ""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_DefaultModel(t *testing.T) {
	t.Parallel()
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ModelID() != "whisper-1" {
		t.Errorf("ModelID() = %q, want whisper-1", p.ModelID())
	}
}

func TestWavFile_Header(t *testing.T) {
	t.Parallel()

	pcm := []byte{1, 0, 2, 0, 3, 0}
	wav := wavFile(pcm, 16000)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Errorf("bad chunk ids: %q %q %q", wav[0:4], wav[8:12], wav[36:40])
	}
	if got := binary.LittleEndian.Uint32(wav[24:]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:]); got != uint32(len(pcm)) {
		t.Errorf("data size = %d, want %d", got, len(pcm))
	}
	if string(wav[44:]) != string(pcm) {
		t.Error("payload not appended verbatim")
	}
}

func TestSession_CommitTranscribesBufferedAudio(t *testing.T) {
	t.Parallel()

	srv, reqs := fakeTranscriptionServer(t, "turn on the lights", http.StatusOK)
	p, err := New("sk-test", "", WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sess, err := p.StartStream(context.Background(), stt.StreamConfig{
		SampleRate: 16000,
		Language:   "en",
		Keywords:   []stt.KeywordBoost{{Keyword: "livetalk"}, {Keyword: "Gemini"}},
	})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })

	if err := sess.Commit(); err != nil {
		t.Fatalf("empty Commit: %v", err)
	}
	_ = sess.SendAudio(make([]byte, 3200))
	_ = sess.SendAudio(make([]byte, 3200))
	if err := sess.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	select {
	case got := <-reqs:
		if got.model != "whisper-1" {
			t.Errorf("model = %q, want whisper-1", got.model)
		}
		if got.language != "en" {
			t.Errorf("language = %q, want en", got.language)
		}
		if got.prompt != "livetalk, Gemini" {
			t.Errorf("prompt = %q", got.prompt)
		}
		if got.filename != "utterance.wav" {
			t.Errorf("filename = %q", got.filename)
		}
		if len(got.file) != 44+6400 {
			t.Errorf("uploaded %d bytes, want %d", len(got.file), 44+6400)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for request")
	}

	select {
	case tr := <-sess.Finals():
		if tr.Text != "turn on the lights" || !tr.IsFinal {
			t.Errorf("final = %+v", tr)
		}
		if tr.Duration != 200*time.Millisecond {
			t.Errorf("duration = %v, want 200ms", tr.Duration)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for final")
	}
}

func TestSession_FailedRequestEmitsNothing(t *testing.T) {
	t.Parallel()

	srv, reqs := fakeTranscriptionServer(t, "", http.StatusBadRequest)
	p, _ := New("sk-test", "whisper-1", WithBaseURL(srv.URL+"/"))
	sess, err := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}

	_ = sess.SendAudio(make([]byte, 320))
	_ = sess.Commit()
	<-reqs

	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for tr := range sess.Finals() {
		t.Errorf("unexpected final %+v", tr)
	}
	if err := sess.SendAudio([]byte{0}); err != stt.ErrClosed {
		t.Errorf("SendAudio after Close = %v, want ErrClosed", err)
	}
}

func TestStartStream_InvalidRate(t *testing.T) {
	t.Parallel()
	p, _ := New("sk-test", "")
	if _, err := p.StartStream(context.Background(), stt.StreamConfig{}); err == nil {
		t.Error("expected error for zero sample rate")
	}
}
