package intent

import (
	"math"
	"testing"
)

func TestNormalize_ConfirmationInvariants(t *testing.T) {
	confidences := []float64{-0.5, 0, 0.3, 0.84, 0.85, 0.9, 1, 1.7, math.NaN()}
	for _, typ := range Types {
		for _, conf := range confidences {
			for _, suggested := range []bool{false, true} {
				for _, requires := range []bool{false, true} {
					got := Normalize(Result{Type: typ, Confidence: conf, Suggested: suggested, RequiresConfirmation: requires})
					if got.Confidence < 0 || got.Confidence > 1 {
						t.Fatalf("%s conf=%v: confidence %v out of range", typ, conf, got.Confidence)
					}
					if got.Suggested && !got.RequiresConfirmation {
						t.Fatalf("%s conf=%v: suggested without confirmation", typ, conf)
					}
					if got.Type.Mutating() && got.Confidence < ConfirmationThreshold && !got.RequiresConfirmation {
						t.Fatalf("%s conf=%v: low-confidence mutation without confirmation", typ, conf)
					}
				}
			}
		}
	}
}

func TestNormalize_UnknownTypeCollapses(t *testing.T) {
	got := Normalize(Result{Type: "SEND_EMAIL", Confidence: 0.99, Params: map[string]any{"to": "x"}})
	if got.Type != Unknown || got.Confidence != 0 || got.Params != nil {
		t.Fatalf("got %#v", got)
	}
}

func TestNormalize_ConfidentCommandIsAutonomous(t *testing.T) {
	got := Normalize(Result{Type: AddTask, Confidence: 0.95})
	if got.RequiresConfirmation {
		t.Fatalf("confident explicit ADD_TASK should not need confirmation")
	}
	got = Normalize(Result{Type: ReadTasks, Confidence: 0.4})
	if got.RequiresConfirmation {
		t.Fatalf("READ_TASKS is not mutating")
	}
}

func TestParseType(t *testing.T) {
	if typ, ok := ParseType(" add_task "); !ok || typ != AddTask {
		t.Fatalf("ParseType = %q, %v", typ, ok)
	}
	if typ, ok := ParseType("DELETE_ALL"); ok || typ != Unknown {
		t.Fatalf("ParseType = %q, %v", typ, ok)
	}
}
