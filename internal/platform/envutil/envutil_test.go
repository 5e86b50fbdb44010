package envutil

import (
	"testing"
	"time"
)

func TestDuration(t *testing.T) {
	t.Setenv("X_DUR", "90s")
	if got := Duration("X_DUR", time.Second); got != 90*time.Second {
		t.Fatalf("go duration: got=%s", got)
	}
	t.Setenv("X_DUR", "15")
	if got := Duration("X_DUR", time.Second); got != 15*time.Second {
		t.Fatalf("bare seconds: got=%s", got)
	}
	t.Setenv("X_DUR", "soon")
	if got := Duration("X_DUR", time.Second); got != time.Second {
		t.Fatalf("fallback: got=%s", got)
	}
}

func TestIntAndBool(t *testing.T) {
	t.Setenv("X_INT", "7")
	t.Setenv("X_BOOL", "off")
	if Int("X_INT", 1) != 7 {
		t.Fatalf("int not parsed")
	}
	if Int("X_MISSING_INT", 3) != 3 {
		t.Fatalf("int default not used")
	}
	if Bool("X_BOOL", true) {
		t.Fatalf("bool off parsed as true")
	}
	if !Bool("X_MISSING_BOOL", true) {
		t.Fatalf("bool default not used")
	}
}
