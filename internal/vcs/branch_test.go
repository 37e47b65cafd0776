package vcs

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

var branchShapeRe = regexp.MustCompile(`^[A-Z0-9_]+_AI_Fix$`)

func TestBranchName(t *testing.T) {
	cases := []struct {
		team, leader, want string
	}{
		{"Rocket Team", "Ada Lovelace", "ROCKET_TEAM_ADA_LOVELACE_AI_Fix"},
		{"alpha", "bob", "ALPHA_BOB_AI_Fix"},
		{"a--b", "c__d", "A_B_C_D_AI_Fix"},
		{"Team#1!", "léo", "TEAM_1_L_O_AI_Fix"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, BranchName(tc.team, tc.leader))
	}
}

func TestBranchNameShape(t *testing.T) {
	inputs := [][2]string{
		{"Rocket Team", "Ada"},
		{"x", "y"},
		{"  spaced  out  ", "lead er"},
		{"ümläut", "team"},
	}
	for _, in := range inputs {
		got := BranchName(in[0], in[1])
		assert.Regexp(t, branchShapeRe, got)
		assert.LessOrEqual(t, len(got), 100)
	}
}

func TestBranchNameIdempotent(t *testing.T) {
	first := BranchName("Rocket Team", "Ada Lovelace")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, BranchName("Rocket Team", "Ada Lovelace"))
	}
}

func TestBranchNameNeverDefaultBranch(t *testing.T) {
	// Empty inputs collapse to the suffix alone; that must not be usable
	// as a default branch and still matches the shape.
	got := BranchName("", "")
	assert.Regexp(t, branchShapeRe, got)
	assert.NotEqual(t, "main", got)
	assert.NotEqual(t, "master", got)
}

func TestBranchNameCapped(t *testing.T) {
	long := ""
	for i := 0; i < 30; i++ {
		long += "VERYLONGTEAM"
	}
	got := BranchName(long, "lead")
	assert.LessOrEqual(t, len(got), 100)
	assert.Regexp(t, branchShapeRe, got)
}
