package google

import (
	"context"
	"errors"
	"testing"

	ttspb "cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/googleapis/gax-go/v2"

	"github.com/MrWong99/vocalis/pkg/audio"
	"github.com/MrWong99/vocalis/pkg/provider/tts"
)

type fakeClient struct {
	resp   *ttspb.SynthesizeSpeechResponse
	err    error
	last   *ttspb.SynthesizeSpeechRequest
	closed bool
}

func (f *fakeClient) SynthesizeSpeech(_ context.Context, req *ttspb.SynthesizeSpeechRequest, _ ...gax.CallOption) (*ttspb.SynthesizeSpeechResponse, error) {
	f.last = req
	return f.resp, f.err
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestSynthesize_BuildsRequest(t *testing.T) {
	t.Parallel()

	wav := audio.EncodeWAV(audio.Clip{SampleRate: 24000, Channels: 1, Samples: []int16{1}})
	fc := &fakeClient{resp: &ttspb.SynthesizeSpeechResponse{AudioContent: wav}}
	p, err := NewWithClient(fc, Config{})
	if err != nil {
		t.Fatalf("NewWithClient: %v", err)
	}

	got, err := p.Synthesize(context.Background(), tts.Request{Text: "Привет", Language: "ru"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(got) != string(wav) {
		t.Fatal("WAV content was not passed through")
	}
	if fc.last.GetInput().GetText() != "Привет" {
		t.Fatalf("text = %q, want Привет", fc.last.GetInput().GetText())
	}
	if fc.last.GetVoice().GetName() != DefaultVoice || fc.last.GetVoice().GetLanguageCode() != DefaultLanguageCode {
		t.Fatalf("voice = %v, want defaults", fc.last.GetVoice())
	}
	if fc.last.GetAudioConfig().GetAudioEncoding() != ttspb.AudioEncoding_LINEAR16 {
		t.Fatalf("encoding = %v, want LINEAR16", fc.last.GetAudioConfig().GetAudioEncoding())
	}
}

func TestSynthesize_WrapsRawPCM(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{resp: &ttspb.SynthesizeSpeechResponse{AudioContent: []byte{1, 0, 2, 0}}}
	p, _ := NewWithClient(fc, Config{SampleRate: 16000})

	got, err := p.Synthesize(context.Background(), tts.Request{Text: "x"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	clip, err := audio.DecodeWAV(got)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if clip.SampleRate != 16000 || len(clip.Samples) != 2 {
		t.Fatalf("clip = %d Hz / %d samples, want 16000 / 2", clip.SampleRate, len(clip.Samples))
	}
}

func TestSynthesize_Errors(t *testing.T) {
	t.Parallel()

	p, _ := NewWithClient(&fakeClient{err: errors.New("permission denied")}, Config{})
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "x"}); err == nil {
		t.Error("expected client error")
	}
	if _, err := p.Synthesize(context.Background(), tts.Request{}); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("err = %v, want ErrEmptyText", err)
	}

	empty, _ := NewWithClient(&fakeClient{resp: &ttspb.SynthesizeSpeechResponse{}}, Config{})
	if _, err := empty.Synthesize(context.Background(), tts.Request{Text: "x"}); err == nil {
		t.Error("expected error for empty audio")
	}
}

func TestClose(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{}
	p, _ := NewWithClient(fc, Config{})
	_ = p.Close()
	if !fc.closed {
		t.Fatal("Close did not close the client")
	}
}
