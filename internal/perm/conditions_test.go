package perm

import (
	"testing"
	"time"
)

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

func at(hour int) time.Time {
	return time.Date(2025, 3, 10, hour, 30, 0, 0, time.Local)
}

func TestEvaluateEmptyConditions(t *testing.T) {
	var c *Conditions
	if !c.Evaluate(at(12), "", nil) {
		t.Fatal("nil conditions must pass")
	}
	empty := &Conditions{}
	if !empty.Evaluate(at(12), "", nil) {
		t.Fatal("empty conditions must pass")
	}
}

func TestEvaluateTimeWindow(t *testing.T) {
	c := &Conditions{Time: &TimeWindow{StartHour: intPtr(9), EndHour: intPtr(17)}}

	if !c.Evaluate(at(9), "", nil) {
		t.Fatal("start hour is inclusive")
	}
	if !c.Evaluate(at(17), "", nil) {
		t.Fatal("end hour is inclusive")
	}
	if c.Evaluate(at(8), "", nil) {
		t.Fatal("before window must fail")
	}
	if c.Evaluate(at(20), "", nil) {
		t.Fatal("after window must fail")
	}

	openEnd := &Conditions{Time: &TimeWindow{StartHour: intPtr(6)}}
	if !openEnd.Evaluate(at(23), "", nil) {
		t.Fatal("open end bound must pass")
	}
}

func TestEvaluateLocations(t *testing.T) {
	c := &Conditions{Locations: []string{"store-1", "store-2"}}
	if !c.Evaluate(at(12), "store-2", nil) {
		t.Fatal("listed location must pass")
	}
	if c.Evaluate(at(12), "store-9", nil) {
		t.Fatal("unlisted location must fail")
	}
	if c.Evaluate(at(12), "", nil) {
		t.Fatal("unknown location must fail")
	}
	if !c.Evaluate(at(12), "", &Resource{Location: "store-1"}) {
		t.Fatal("resource location must stand in when none is supplied")
	}
	if c.Evaluate(at(12), "store-9", &Resource{Location: "store-1"}) {
		t.Fatal("a supplied location is authoritative over the resource's")
	}
}

func TestEvaluateAmountLimit(t *testing.T) {
	c := &Conditions{AmountLimit: int64Ptr(1000)}

	if c.Evaluate(at(12), "", nil) {
		t.Fatal("amount-gated grant without resource must fail closed")
	}
	if c.Evaluate(at(12), "", &Resource{}) {
		t.Fatal("resource without amount must fail closed")
	}
	if c.Evaluate(at(12), "", &Resource{Amount: int64Ptr(1500)}) {
		t.Fatal("amount above limit must fail")
	}
	if !c.Evaluate(at(12), "", &Resource{Amount: int64Ptr(500)}) {
		t.Fatal("amount under limit must pass")
	}
	if !c.Evaluate(at(12), "", &Resource{Amount: int64Ptr(1000)}) {
		t.Fatal("amount equal to limit must pass")
	}
}

func TestEvaluateAllMustPass(t *testing.T) {
	c := &Conditions{
		Time:        &TimeWindow{StartHour: intPtr(9), EndHour: intPtr(17)},
		Locations:   []string{"store-1"},
		AmountLimit: int64Ptr(1000),
	}
	res := &Resource{Location: "store-1", Amount: int64Ptr(900)}
	if !c.Evaluate(at(10), "store-1", res) {
		t.Fatal("all conditions satisfied must pass")
	}
	if c.Evaluate(at(10), "store-2", res) {
		t.Fatal("one failing condition must fail the grant")
	}
}
