package clock

import (
	"testing"
	"time"
)

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	ch := f.After(5 * time.Second)

	select {
	case <-ch:
		t.Fatal("fired before advance")
	default:
	}

	f.Advance(5 * time.Second)

	select {
	case <-ch:
	default:
		t.Fatal("did not fire after advance")
	}
}

func TestFakeTickerFiresRepeatedly(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	tk := f.NewTicker(time.Second)

	f.Advance(3 * time.Second)

	count := 0
drain:
	for {
		select {
		case <-tk.C():
			count++
		default:
			break drain
		}
	}
	if count == 0 {
		t.Fatal("ticker did not fire")
	}
}
