package observe

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func TestMiddleware_WrapSuccess(t *testing.T) {
	tracer, rec := newRecordingTracer(t)
	reader := sdkmetric.NewManualReader()
	metrics, err := NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test"))
	if err != nil {
		t.Fatal(err)
	}
	var logs bytes.Buffer
	mw := NewMiddleware(tracer, metrics, NewLoggerWithWriter("debug", "json", &logs))

	fn := mw.Wrap(func(ctx context.Context, meta CallMeta, args any) (any, error) {
		return args.(string) + "!", nil
	})
	out, err := fn(context.Background(), CallMeta{Key: "echo"}, "hi")
	if err != nil {
		t.Fatalf("wrapped call failed: %v", err)
	}
	if out != "hi!" {
		t.Errorf("result = %v, want hi!", out)
	}

	if spans := rec.Ended(); len(spans) != 1 || spans[0].Status().Code != codes.Ok {
		t.Errorf("unexpected spans: %v", spans)
	}
	if got := counterValue(t, collect(t, reader), "flowguard.call.total"); got != 1 {
		t.Errorf("call.total = %d, want 1", got)
	}
	if !strings.Contains(logs.String(), `"msg":"call completed"`) {
		t.Errorf("expected debug completion log, got %s", logs.String())
	}
}

func TestMiddleware_WrapErrorPropagatesUnchanged(t *testing.T) {
	tracer, rec := newRecordingTracer(t)
	var logs bytes.Buffer
	mw := NewMiddleware(tracer, nil, NewLoggerWithWriter("info", "json", &logs))

	want := errors.New("terminal upstream")
	fn := mw.Wrap(func(ctx context.Context, meta CallMeta, args any) (any, error) {
		return nil, want
	})
	_, err := fn(context.Background(), CallMeta{Key: "search", Provider: "p"}, nil)
	if err != want {
		t.Errorf("err = %v, want %v", err, want)
	}

	if s := rec.Ended()[0]; s.Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", s.Status().Code)
	}
	out := logs.String()
	if !strings.Contains(out, `"msg":"call failed"`) || !strings.Contains(out, `"call.key":"search"`) {
		t.Errorf("unexpected log output: %s", out)
	}
}

func TestNewMiddleware_NilComponents(t *testing.T) {
	mw := NewMiddleware(nil, nil, nil)
	if mw.Metrics() == nil || mw.Logger() == nil {
		t.Fatal("nil components should be replaced with no-ops")
	}

	fn := mw.Wrap(func(ctx context.Context, meta CallMeta, args any) (any, error) {
		return 1, nil
	})
	if out, err := fn(context.Background(), CallMeta{Key: "k"}, nil); err != nil || out != 1 {
		t.Errorf("got (%v, %v)", out, err)
	}
}
