package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewRetry(t *testing.T) {
	r := NewRetry(RetryConfig{})

	if r.config.MaxRetries != 0 {
		t.Errorf("MaxRetries = %d, want 0", r.config.MaxRetries)
	}
	if r.config.BaseDelay != time.Second {
		t.Errorf("BaseDelay = %v, want 1s", r.config.BaseDelay)
	}
	if r.config.MaxDelay != 0 {
		t.Errorf("MaxDelay = %v, want uncapped", r.config.MaxDelay)
	}
	if r.config.Strategy != BackoffLinear {
		t.Errorf("Strategy = %v, want BackoffLinear", r.config.Strategy)
	}
	if r.config.Classify == nil {
		t.Error("Classify not defaulted")
	}
}

func TestNewRetry_NegativeRetries(t *testing.T) {
	r := NewRetry(RetryConfig{MaxRetries: -2})
	if r.config.MaxRetries != 0 {
		t.Errorf("MaxRetries = %d, want 0", r.config.MaxRetries)
	}
}

func TestRetry_AttemptBudget(t *testing.T) {
	tests := []struct {
		retries      int
		wantAttempts int
	}{
		{retries: 0, wantAttempts: 1},
		{retries: 1, wantAttempts: 2},
		{retries: 3, wantAttempts: 4},
	}

	for _, tt := range tests {
		r := NewRetry(RetryConfig{MaxRetries: tt.retries, BaseDelay: time.Millisecond})

		attempts := 0
		err := r.Execute(context.Background(), func(ctx context.Context) error {
			attempts++
			return Transient(errors.New("overloaded"))
		})

		if attempts != tt.wantAttempts {
			t.Errorf("MaxRetries=%d: attempts = %d, want %d", tt.retries, attempts, tt.wantAttempts)
		}
		var re *Error
		if !errors.As(err, &re) || re.Kind != KindExhaustedRetries || re.Attempts != tt.wantAttempts {
			t.Errorf("MaxRetries=%d: err = %v, want exhausted after %d attempts", tt.retries, err, tt.wantAttempts)
		}
	}
}

func TestRetry_SuccessOnFirstAttempt(t *testing.T) {
	r := NewRetry(RetryConfig{MaxRetries: 3})

	attempts := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Execute() error = %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetry_SuccessOnRetry(t *testing.T) {
	r := NewRetry(RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond})

	attempts := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return Transient(errors.New("overloaded"))
		}
		return nil
	})

	if err != nil {
		t.Errorf("Execute() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetry_ExhaustedMakesRPlusOneAttempts(t *testing.T) {
	for _, maxRetries := range []int{1, 2, 5} {
		r := NewRetry(RetryConfig{MaxRetries: maxRetries, BaseDelay: time.Millisecond})

		attempts := 0
		cause := &ProviderError{Provider: "llm", StatusCode: 503}
		err := r.Execute(context.Background(), func(ctx context.Context) error {
			attempts++
			return cause
		})

		if attempts != maxRetries+1 {
			t.Errorf("MaxRetries=%d: attempts = %d, want %d", maxRetries, attempts, maxRetries+1)
		}
		if !errors.Is(err, ErrExhaustedRetries) {
			t.Fatalf("err = %v, want ErrExhaustedRetries", err)
		}
		var re *Error
		if !errors.As(err, &re) || re.Attempts != maxRetries+1 {
			t.Errorf("Error.Attempts = %v, want %d", re, maxRetries+1)
		}
		if !errors.Is(err, cause) {
			t.Error("last failure not carried by exhausted error")
		}
	}
}

func TestRetry_TerminalShortCircuit(t *testing.T) {
	r := NewRetry(RetryConfig{MaxRetries: 10, BaseDelay: time.Millisecond})

	attempts := 0
	cause := &ProviderError{Provider: "search", StatusCode: 401}
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return cause
	})

	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if !errors.Is(err, ErrTerminalUpstream) {
		t.Errorf("err = %v, want ErrTerminalUpstream", err)
	}
	if !errors.Is(err, cause) {
		t.Error("terminal error should wrap the provider error")
	}
}

func TestRetry_ExplicitErrorReturnedAsIs(t *testing.T) {
	r := NewRetry(RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond})

	want := Terminal(errors.New("bad prompt"))
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		return want
	})
	if err != want {
		t.Errorf("err = %v, want %v", err, want)
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	r := NewRetry(RetryConfig{MaxRetries: 5, BaseDelay: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := r.Execute(ctx, func(ctx context.Context) error {
		attempts++
		return Transient(errors.New("busy"))
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetry_OnRetryCallback(t *testing.T) {
	var retries []int
	var delays []time.Duration

	r := NewRetry(RetryConfig{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		OnRetry: func(retry int, err error, delay time.Duration) {
			retries = append(retries, retry)
			delays = append(delays, delay)
		},
	})

	_ = r.Execute(context.Background(), func(ctx context.Context) error {
		return Transient(errors.New("busy"))
	})

	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Errorf("retries = %v, want [1 2]", retries)
	}
	if len(delays) != 2 || delays[0] != time.Millisecond || delays[1] != 2*time.Millisecond {
		t.Errorf("delays = %v, want [1ms 2ms]", delays)
	}
}

func TestRetry_CustomClassify(t *testing.T) {
	r := NewRetry(RetryConfig{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		Classify:   func(error) Kind { return KindTransientUpstream },
	})

	attempts := 0
	_ = r.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("bad input")
	})
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetry_Delay(t *testing.T) {
	tests := []struct {
		name   string
		config RetryConfig
		n      int
		want   time.Duration
	}{
		{"linear 1", RetryConfig{BaseDelay: 10 * time.Second}, 1, 10 * time.Second},
		{"linear 3", RetryConfig{BaseDelay: 10 * time.Second}, 3, 30 * time.Second},
		{"linear capped", RetryConfig{BaseDelay: 10 * time.Second, MaxDelay: 15 * time.Second}, 3, 15 * time.Second},
		{"exponential 3", RetryConfig{BaseDelay: time.Second, Strategy: BackoffExponential}, 3, 4 * time.Second},
		{"exponential x3", RetryConfig{BaseDelay: time.Second, Strategy: BackoffExponential, Multiplier: 3}, 3, 9 * time.Second},
		{"constant", RetryConfig{BaseDelay: time.Second, Strategy: BackoffConstant}, 7, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRetry(tt.config)
			if got := r.Delay(tt.n); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.n, got, tt.want)
			}
		})
	}
}

func TestRetry_DelayJitterBounded(t *testing.T) {
	r := NewRetry(RetryConfig{BaseDelay: 100 * time.Millisecond, Jitter: true})

	for i := 0; i < 100; i++ {
		d := r.Delay(2)
		if d < 200*time.Millisecond || d >= 250*time.Millisecond {
			t.Fatalf("Delay(2) = %v, want [200ms, 250ms)", d)
		}
	}
}
