package channel

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"plain", "https://conda.anaconda.org/bioconda", "https://conda.anaconda.org/bioconda", false},
		{"trailing slash", "https://conda.anaconda.org/bioconda/ ", "https://conda.anaconda.org/bioconda", false},
		{"http allowed", "http://localhost:8080/ch", "http://localhost:8080/ch", false},
		{"empty", "   ", "", true},
		{"no scheme", "conda.anaconda.org/bioconda", "", true},
		{"ftp scheme", "ftp://example.com/ch", "", true},
		{"no host", "https:///bioconda", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDedupe_KeepsOrder(t *testing.T) {
	got, err := Dedupe([]string{
		"https://repo.anaconda.com/pkgs/main",
		"https://conda.anaconda.org/bioconda/",
		"https://repo.anaconda.com/pkgs/main",
		"https://conda.anaconda.org/bioconda",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://repo.anaconda.com/pkgs/main",
		"https://conda.anaconda.org/bioconda",
	}, got)
}

func TestDedupe_InvalidChannel(t *testing.T) {
	_, err := Dedupe([]string{"https://conda.anaconda.org/bioconda", "not a url"})
	assert.Error(t, err)
}

func TestCleanSubdirs(t *testing.T) {
	got := CleanSubdirs([]string{" noarch ", "", "linux-64/", "noarch", "  "})
	assert.Equal(t, []string{"noarch", "linux-64"}, got)
}

func TestRepodataURL(t *testing.T) {
	assert.Equal(t,
		"https://repo.anaconda.com/pkgs/main/osx-arm64/repodata.json",
		RepodataURL("https://repo.anaconda.com/pkgs/main", "osx-arm64"),
	)
}

func TestEncodePath(t *testing.T) {
	tests := []struct {
		channel string
		subdir  string
		want    string
	}{
		{
			channel: "https://conda.anaconda.org/bioconda",
			subdir:  "noarch",
			want:    "https%3A%2F/conda.anaconda.org/bioconda/noarch",
		},
		{
			channel: "https://conda.anaconda.org/conda-forge/label/broken",
			subdir:  "linux-64",
			want:    "https%3A%2F/conda.anaconda.org/conda-forge/label/broken/linux-64",
		},
		{
			channel: "http://localhost:8080/my channel",
			subdir:  "win-64",
			want:    "http%3A%2F/localhost%3A8080/my%20channel/win-64",
		},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, EncodePath(tt.channel, tt.subdir))
		})
	}
}

func TestOutputDir(t *testing.T) {
	root := t.TempDir()
	got := OutputDir(root, "https://repo.anaconda.com/pkgs/r", "noarch")
	assert.Equal(t, filepath.Join(root, "https%3A%2F", "repo.anaconda.com", "pkgs", "r", "noarch"), got)
}

func TestQuote_NonASCII(t *testing.T) {
	assert.Equal(t, "caf%C3%A9/x", quote("café/x"))
}

func TestArchiveChannelsAreValid(t *testing.T) {
	got, err := Dedupe(Archive)
	require.NoError(t, err)
	assert.Len(t, got, len(Archive), "archive list should not contain duplicates")

	got, err = Dedupe(Defaults)
	require.NoError(t, err)
	assert.Len(t, got, len(Defaults))
}
