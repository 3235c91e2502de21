package match

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/droverd/drover/pkg/types"
)

func TestParseTokens(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want []string
	}{
		{"space separated", "python linux", []string{"python", "linux"}},
		{"comma separated", "dotnet,chrome", []string{"dotnet", "chrome"}},
		{"mixed separators", "a, b  c,,d", []string{"a", "b", "c", "d"}},
		{"duplicates collapse", "python python", []string{"python"}},
		{"empty", "", nil},
		{"only separators", " , , ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseTokens(tt.expr)
			assert.Len(t, got, len(tt.want))
			for _, tok := range tt.want {
				assert.Contains(t, got, tok)
			}
		})
	}
}

func TestParseTokensCaseSensitive(t *testing.T) {
	got := ParseTokens("Python python")
	assert.Len(t, got, 2)
}

func res(id, caps string) *types.Resource {
	return &types.Resource{ID: id, Capabilities: caps}
}

func TestFindBestResource(t *testing.T) {
	tests := []struct {
		name         string
		requirements string
		candidates   []*types.Resource
		wantID       string
	}{
		{
			name:         "superset required",
			requirements: "python linux",
			candidates:   []*types.Resource{res("a", "python"), res("b", "python linux chrome")},
			wantID:       "b",
		},
		{
			name:         "fewest capabilities wins",
			requirements: "python",
			candidates:   []*types.Resource{res("wide", "python linux chrome dotnet"), res("narrow", "python linux")},
			wantID:       "narrow",
		},
		{
			name:         "tie keeps earliest candidate",
			requirements: "python",
			candidates:   []*types.Resource{res("first", "python linux"), res("second", "python chrome")},
			wantID:       "first",
		},
		{
			name:         "no compatible candidate",
			requirements: "dotnet",
			candidates:   []*types.Resource{res("a", "python"), res("b", "linux")},
			wantID:       "",
		},
		{
			name:         "empty requirements never match",
			requirements: "",
			candidates:   []*types.Resource{res("a", "python")},
			wantID:       "",
		},
		{
			name:         "no candidates",
			requirements: "python",
			candidates:   nil,
			wantID:       "",
		},
		{
			name:         "case sensitive matching",
			requirements: "Python",
			candidates:   []*types.Resource{res("a", "python")},
			wantID:       "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FindBestResource(tt.requirements, tt.candidates)
			if tt.wantID == "" {
				assert.Nil(t, got)
				return
			}
			if assert.NotNil(t, got) {
				assert.Equal(t, tt.wantID, got.ID)
			}
		})
	}
}
