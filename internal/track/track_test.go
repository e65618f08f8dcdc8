package track

import (
	"errors"
	"testing"
)

func TestUsageIsWrite(t *testing.T) {
	tests := []struct {
		usage Usage
		want  bool
	}{
		{UsageNone, false},
		{UsageCopySrc, false},
		{UsageCopyDst, true},
		{UsageVertex | UsageIndex, false},
		{UsageStorageWrite, true},
		{UsageColorTarget, true},
		{UsageDepthRead, false},
		{UsageDepthWrite, true},
		{UsageSampled | UsageResolve, true},
	}
	for _, tt := range tests {
		t.Run(tt.usage.String(), func(t *testing.T) {
			if got := tt.usage.IsWrite(); got != tt.want {
				t.Errorf("IsWrite() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNeedsBarrier(t *testing.T) {
	tests := []struct {
		name       string
		prev, next Usage
		want       bool
	}{
		{"same read", UsageVertex, UsageVertex, false},
		{"read to read", UsageVertex, UsageUniform, true},
		{"first use", UsageNone, UsageCopyDst, true},
		{"copy dst twice", UsageCopyDst, UsageCopyDst, true},
		{"storage write twice", UsageStorageWrite, UsageStorageWrite, true},
		{"color target twice", UsageColorTarget, UsageColorTarget, false},
		{"write to read", UsageCopyDst, UsageCopySrc, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NeedsBarrier(tt.prev, tt.next); got != tt.want {
				t.Errorf("NeedsBarrier(%s, %s) = %v, want %v", tt.prev, tt.next, got, tt.want)
			}
		})
	}
}

func TestRegionOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b Region
		want bool
	}{
		{"disjoint bytes", BufferRegion(0, 16), BufferRegion(16, 16), false},
		{"overlapping bytes", BufferRegion(0, 17), BufferRegion(16, 16), true},
		{"empty", BufferRegion(0, 0), BufferRegion(0, 16), false},
		{"same mip other layer", TextureRegion(0, 1, 0, 1), TextureRegion(0, 1, 1, 1), false},
		{"mip chain vs single mip", TextureRegion(0, 4, 0, 1), TextureRegion(2, 1, 0, 1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Overlaps(tt.b); got != tt.want {
				t.Errorf("Overlaps() = %v, want %v", got, tt.want)
			}
			if got := tt.b.Overlaps(tt.a); got != tt.want {
				t.Errorf("Overlaps() not symmetric: %v", got)
			}
		})
	}
}

func TestScopeHazard(t *testing.T) {
	buf := BufferKey(1)
	tex := TextureKey(1)

	tests := []struct {
		name    string
		uses    []func(*Scope) error
		wantErr bool
	}{
		{
			name: "two reads",
			uses: []func(*Scope) error{
				func(s *Scope) error { return s.Use(buf, BufferRegion(0, 64), UsageVertex) },
				func(s *Scope) error { return s.Use(buf, BufferRegion(0, 64), UsageIndex) },
			},
		},
		{
			name: "self copy overlapping",
			uses: []func(*Scope) error{
				func(s *Scope) error { return s.Use(buf, BufferRegion(0, 64), UsageCopySrc) },
				func(s *Scope) error { return s.Use(buf, BufferRegion(32, 64), UsageCopyDst) },
			},
			wantErr: true,
		},
		{
			name: "self copy disjoint",
			uses: []func(*Scope) error{
				func(s *Scope) error { return s.Use(buf, BufferRegion(0, 64), UsageCopySrc) },
				func(s *Scope) error { return s.Use(buf, BufferRegion(64, 64), UsageCopyDst) },
			},
		},
		{
			name: "aliased attachments",
			uses: []func(*Scope) error{
				func(s *Scope) error { return s.Use(tex, TextureRegion(0, 1, 0, 1), UsageColorTarget) },
				func(s *Scope) error { return s.Use(tex, TextureRegion(0, 1, 0, 1), UsageColorTarget) },
			},
			wantErr: true,
		},
		{
			name: "distinct layers as attachments",
			uses: []func(*Scope) error{
				func(s *Scope) error { return s.Use(tex, TextureRegion(0, 1, 0, 1), UsageColorTarget) },
				func(s *Scope) error { return s.Use(tex, TextureRegion(0, 1, 1, 1), UsageColorTarget) },
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScope()
			var err error
			for _, u := range tt.uses {
				if err = u(s); err != nil {
					break
				}
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrHazard) {
				t.Errorf("err = %v, want ErrHazard", err)
			}
		})
	}
}

func TestScopeUseLeavesStateOnConflict(t *testing.T) {
	s := NewScope()
	key := BufferKey(9)
	if err := s.Use(key, BufferRegion(0, 16), UsageCopyDst); err != nil {
		t.Fatal(err)
	}
	if err := s.Use(key, BufferRegion(0, 16), UsageCopySrc); err == nil {
		t.Fatal("expected hazard")
	}
	if got := s.Usage(key); got != UsageCopyDst {
		t.Errorf("Usage() = %s after failed Use, want CopyDst", got)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestTrackerMerge(t *testing.T) {
	key := BufferKey(3)
	tr := NewTracker()

	scope := func(u Usage) *Scope {
		s := NewScope()
		if err := s.Use(key, BufferRegion(0, 256), u); err != nil {
			t.Fatal(err)
		}
		return s
	}

	if b := tr.Merge(scope(UsageCopyDst)); len(b) != 0 {
		t.Errorf("first scope emitted %v", b)
	}
	b := tr.Merge(scope(UsageVertex))
	if len(b) != 1 || b[0].From != UsageCopyDst || b[0].To != UsageVertex {
		t.Errorf("usage change emitted %v", b)
	}
	if b := tr.Merge(scope(UsageVertex)); len(b) != 0 {
		t.Errorf("unchanged read emitted %v", b)
	}

	u := tr.Usages()
	if u.First[key] != UsageCopyDst || u.Last[key] != UsageVertex {
		t.Errorf("Usages() = %+v", u)
	}
	if tr.Scopes() != 3 {
		t.Errorf("Scopes() = %d, want 3", tr.Scopes())
	}
}

func TestStatePlanCommit(t *testing.T) {
	a, b := BufferKey(1), BufferKey(2)
	st := NewState()

	first := Usages{
		First: map[Key]Usage{a: UsageCopyDst},
		Last:  map[Key]Usage{a: UsageCopyDst},
	}
	second := Usages{
		First: map[Key]Usage{a: UsageCopySrc, b: UsageCopyDst},
		Last:  map[Key]Usage{a: UsageCopySrc, b: UsageCopyDst},
	}

	plan := st.Plan([]Usages{first, second})
	if len(plan) != 2 {
		t.Fatalf("Plan returned %d entries", len(plan))
	}
	if len(plan[0]) != 1 || plan[0][0].From != UsageNone {
		t.Errorf("plan[0] = %v, want one transition from None", plan[0])
	}
	// second sees the exit state of first, not the committed state.
	if len(plan[1]) != 2 || plan[1][0].Key != a || plan[1][0].From != UsageCopyDst {
		t.Errorf("plan[1] = %v", plan[1])
	}
	if st.Len() != 0 {
		t.Error("Plan modified state")
	}

	st.Commit([]Usages{first, second}, 7)
	if st.Usage(a) != UsageCopySrc {
		t.Errorf("Usage(a) = %s, want CopySrc", st.Usage(a))
	}
	if st.LastSubmission(b) != 7 {
		t.Errorf("LastSubmission(b) = %d, want 7", st.LastSubmission(b))
	}

	again := Usages{First: map[Key]Usage{a: UsageCopySrc}, Last: map[Key]Usage{a: UsageCopySrc}}
	if p := st.Plan([]Usages{again}); len(p[0]) != 0 {
		t.Errorf("unchanged usage across submissions planned %v", p[0])
	}

	st.Forget(a)
	if st.LastSubmission(a) != 0 {
		t.Error("Forget did not drop the submission stamp")
	}
}
