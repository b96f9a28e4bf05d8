package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/saidsurucu/tvstream/internal/model"
	"github.com/saidsurucu/tvstream/internal/registry"
	"github.com/saidsurucu/tvstream/internal/store"
	"github.com/saidsurucu/tvstream/internal/wire"
)

func newTestDispatcher() (*Dispatcher, *registry.Registry, *store.Store) {
	reg := registry.New()
	st := store.New(nil)
	return New(reg, st, nil, nil), reg, st
}

func TestHandleQSD(t *testing.T) {
	d, _, st := newTestDispatcher()

	msg := wire.Message{
		Method: "qsd",
		Params: []interface{}{
			"qs_abc123",
			map[string]interface{}{
				"n": "BIST:THYAO",
				"v": map[string]interface{}{"lp": 299.0, "chp": 1.5},
			},
		},
	}
	d.Handle(context.Background(), msg)

	q, ok := st.GetQuote("THYAO")
	if !ok {
		t.Fatalf("expected quote for THYAO to exist")
	}
	if q.Last != 299.0 || q.ChangePercent != 1.5 {
		t.Errorf("quote = %+v, want last=299.0 change_percent=1.5", q)
	}
	if !q.Populated() {
		t.Errorf("expected quote to be marked populated")
	}
}

func TestHandleQuoteCompletedSignalsReadyWithoutData(t *testing.T) {
	d, _, st := newTestDispatcher()
	d.Handle(context.Background(), wire.Message{Method: "quote_completed", Params: []interface{}{"qs_abc", "BIST:GARAN"}})

	start := time.Now()
	st.WaitForQuote(context.Background(), "GARAN", time.Second)
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("expected quote_completed to set GARAN's readiness latch, waited %v", elapsed)
	}
	if _, ok := st.GetQuote("GARAN"); ok {
		t.Fatalf("expected no populated quote for GARAN after a quote_completed that carried no data")
	}
}

func TestHandleTimescaleUpdateRoutesCandles(t *testing.T) {
	d, reg, st := newTestDispatcher()
	tag, _ := reg.AddCandle("THYAO", "1m", "BIST")

	msg := wire.Message{
		Method: "timescale_update",
		Params: []interface{}{
			"cs_abc",
			map[string]interface{}{
				tag: map[string]interface{}{
					"s": []interface{}{
						map[string]interface{}{"i": 0.0, "v": []interface{}{100.0, 1.0, 2.0, 1.0, 2.0, 10.0}},
						map[string]interface{}{"i": 1.0, "v": []interface{}{160.0, 2.0, 3.0, 2.0, 3.0, 12.0}},
					},
				},
			},
		},
	}
	d.Handle(context.Background(), msg)

	candles := st.GetCandles(registry.CandleKey{Symbol: "THYAO", Interval: "1m"}, 0)
	if len(candles) != 2 {
		t.Fatalf("got %d candles, want 2", len(candles))
	}
	if candles[0].Close != 2.0 || candles[1].Close != 3.0 {
		t.Errorf("candles = %+v", candles)
	}

	// A third update at the same timestamp as the tail rewrites it in place.
	msg2 := wire.Message{
		Method: "du",
		Params: []interface{}{
			"cs_abc",
			map[string]interface{}{
				tag: map[string]interface{}{
					"s": []interface{}{
						map[string]interface{}{"i": 0.0, "v": []interface{}{160.0, 2.0, 3.0, 2.0, 4.0, 12.0}},
					},
				},
			},
		},
	}
	d.Handle(context.Background(), msg2)
	candles = st.GetCandles(registry.CandleKey{Symbol: "THYAO", Interval: "1m"}, 0)
	if len(candles) != 2 {
		t.Fatalf("got %d candles after tail rewrite, want 2", len(candles))
	}
	if candles[1].Close != 4.0 {
		t.Errorf("tail not rewritten: %+v", candles[1])
	}
}

func TestHandleTimescaleUpdateRoutesStudy(t *testing.T) {
	d, reg, st := newTestDispatcher()
	key := registry.StudyKey{Symbol: "THYAO", Interval: "1m", DisplayName: "RSI"}
	studyID, _ := reg.AddStudy(key, "STD;RSI", model.Descriptor{WireID: "STD;RSI"}, nil)

	msg := wire.Message{
		Method: "timescale_update",
		Params: []interface{}{
			"cs_abc",
			map[string]interface{}{
				studyID: map[string]interface{}{
					"s": []interface{}{
						map[string]interface{}{"v": []interface{}{100.0, 55.5}},
					},
				},
			},
		},
	}
	d.Handle(context.Background(), msg)

	got, ok := st.GetStudy(key)
	if !ok {
		t.Fatalf("expected study record for %+v", key)
	}
	if !got.Ready || got.Values["value"] != 55.5 {
		t.Errorf("study = %+v, want ready with value=55.5", got)
	}
}

func TestHandleTimescaleUpdateDropsUnknownTag(t *testing.T) {
	d, _, st := newTestDispatcher()
	msg := wire.Message{
		Method: "timescale_update",
		Params: []interface{}{
			"cs_abc",
			map[string]interface{}{
				"ser_999": map[string]interface{}{
					"s": []interface{}{map[string]interface{}{"v": []interface{}{100.0, 1.0, 2.0, 1.0, 2.0, 10.0}}},
				},
			},
		},
	}
	d.Handle(context.Background(), msg)

	if _, ok := st.GetCandle(registry.CandleKey{Symbol: "THYAO", Interval: "1m"}); ok {
		t.Errorf("unknown tag should not create any candle record")
	}
}

func TestHandleStudyLoadingAndCompleted(t *testing.T) {
	d, reg, st := newTestDispatcher()
	key := registry.StudyKey{Symbol: "THYAO", Interval: "1m", DisplayName: "RSI"}
	studyID, _ := reg.AddStudy(key, "STD;RSI", model.Descriptor{WireID: "STD;RSI"}, nil)
	st.EnsureStudy(key, "STD;RSI", studyID)

	d.Handle(context.Background(), wire.Message{Method: "study_loading", Params: []interface{}{"cs_abc", studyID}})
	got, _ := st.GetStudy(key)
	if got.Ready {
		t.Errorf("expected study not ready after study_loading")
	}

	d.Handle(context.Background(), wire.Message{Method: "study_completed", Params: []interface{}{"cs_abc", studyID}})
	got, _ = st.GetStudy(key)
	if !got.Ready {
		t.Errorf("expected study ready after study_completed")
	}
}
