package condition

import "testing"

func TestParse_EmptyConditionIsParseError(t *testing.T) {
	_, err := Parse("   ")
	if err == nil {
		t.Fatal("expected ParseError for empty condition")
	}
	if _, ok := err.(*ParseError); !ok {
		t.Fatalf("expected *ParseError, got %T", err)
	}
}

func TestParse_SimpleComparison(t *testing.T) {
	p, err := Parse("rsi < 30")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !p.Evaluate(map[string]float64{"rsi": 28.5}, nil) {
		t.Error("expected rsi < 30 to be true for rsi=28.5")
	}
	if p.Evaluate(map[string]float64{"rsi": 31}, nil) {
		t.Error("expected rsi < 30 to be false for rsi=31")
	}

	req := p.RequiredIndicators()
	if got := req["rsi"]; len(got) != 1 || got[0] != 14 {
		t.Errorf("expected rsi required period [14], got %v", got)
	}
}

func TestParse_AndOrVolumeSuffix(t *testing.T) {
	p, err := Parse("rsi < 30 and volume > 1M")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	req := p.RequiredIndicators()
	if got := req["rsi"]; len(got) != 1 || got[0] != 14 {
		t.Fatalf("expected rsi:[14], got %v", req)
	}

	if !p.Evaluate(map[string]float64{"rsi": 28.5, "volume": 1_500_000}, nil) {
		t.Error("expected true for rsi=28.5 volume=1.5M")
	}
	if p.Evaluate(map[string]float64{"rsi": 28.5, "volume": 500_000}, nil) {
		t.Error("expected false for rsi=28.5 volume=500K")
	}
}

func TestParse_ParenthesesAndOr(t *testing.T) {
	p, err := Parse("(rsi < 30 or rsi > 70) and volume > 1000000")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !p.Evaluate(map[string]float64{"rsi": 75, "volume": 2_000_000}, nil) {
		t.Error("expected true")
	}
	if p.Evaluate(map[string]float64{"rsi": 50, "volume": 2_000_000}, nil) {
		t.Error("expected false (rsi in neutral zone)")
	}
}

func TestParse_Crossover(t *testing.T) {
	p, err := Parse("sma_20 crosses_above sma_50")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	req := p.RequiredIndicators()
	if got := req["sma"]; len(got) != 2 {
		t.Fatalf("expected sma periods [20 50], got %v", got)
	}

	history := History{
		{Indicators: map[string]float64{"sma_20": 279, "sma_50": 280}},
		{Indicators: map[string]float64{"sma_20": 281, "sma_50": 280}},
	}
	if !p.Evaluate(nil, history) {
		t.Error("expected crossover true")
	}

	reversed := History{
		{Indicators: map[string]float64{"sma_20": 281, "sma_50": 280}},
		{Indicators: map[string]float64{"sma_20": 279, "sma_50": 280}},
	}
	if p.Evaluate(nil, reversed) {
		t.Error("expected crossover false when reversed")
	}
}

func TestParse_CrossoverRequiresTwoBars(t *testing.T) {
	p, err := Parse("sma_20 crosses sma_50")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Evaluate(nil, History{{Indicators: map[string]float64{"sma_20": 1, "sma_50": 1}}}) {
		t.Error("expected false with fewer than two bars")
	}
	if p.Evaluate(nil, nil) {
		t.Error("expected false with nil history")
	}
}

func TestParse_Lookback(t *testing.T) {
	p, err := Parse("rsi was < 30 yesterday")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.RequiredLookback() != 1 {
		t.Errorf("expected required lookback 1, got %d", p.RequiredLookback())
	}

	history := History{
		{Indicators: map[string]float64{"rsi": 25}},
		{Indicators: map[string]float64{"rsi": 40}},
	}
	if !p.Evaluate(map[string]float64{}, history) {
		t.Error("expected true: yesterday's rsi (25) < 30")
	}
}

func TestParse_MissingFieldEvaluatesFalseNoPanic(t *testing.T) {
	p, err := Parse("rsi[0] > 30")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Evaluate(map[string]float64{}, nil) {
		t.Error("expected false when field missing and no history")
	}
}

func TestParse_OffsetOperand(t *testing.T) {
	// Both sides carry the same explicit offset, so the comparison reads
	// the same historical bar on each side — the usual "N bars ago"
	// idiom for this grammar (a mismatched pair of offsets collapses to
	// the node's single max offset for both operands, matching the
	// reference evaluator this was ported from).
	p, err := Parse("high[1] > low[1]")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.RequiredLookback() != 1 {
		t.Errorf("expected required lookback 1, got %d", p.RequiredLookback())
	}
	history := History{
		{High: 120, Low: 90},
		{High: 150, Low: 140},
	}
	if !p.Evaluate(map[string]float64{}, history) {
		t.Error("expected true: bar[1] high=120 > low=90")
	}
}

func TestParse_InvalidOperatorIsError(t *testing.T) {
	if _, err := Parse("rsi ~~ 30"); err == nil {
		t.Fatal("expected ParseError for unknown operator")
	}
}

func TestParse_UnclosedParenIsError(t *testing.T) {
	if _, err := Parse("(rsi < 30"); err == nil {
		t.Fatal("expected ParseError for missing closing paren")
	}
}
