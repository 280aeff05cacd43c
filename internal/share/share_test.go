package share

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintOrderIndependent(t *testing.T) {
	assert.Equal(t, "a,b", Fingerprint([]string{"b", "a"}))
	assert.Equal(t, Fingerprint([]string{"3", "1", "2"}), Fingerprint([]string{"2", "3", "1"}))
}

func TestFingerprintMembershipSensitive(t *testing.T) {
	base := Fingerprint([]string{"1", "2", "3"})

	assert.NotEqual(t, base, Fingerprint([]string{"1", "2"}), "removal")
	assert.NotEqual(t, base, Fingerprint([]string{"1", "2", "3", "4"}), "addition")
	assert.NotEqual(t, base, Fingerprint([]string{"1", "2", "5"}), "substitution")
}

func TestFingerprintIgnoresRepeats(t *testing.T) {
	assert.Equal(t, Fingerprint([]string{"1"}), Fingerprint([]string{"1", "1"}))
	assert.Equal(t, "1,2", Fingerprint([]string{"2", "1", "2"}))
}

func TestFingerprintEmptyAndInputUntouched(t *testing.T) {
	assert.Equal(t, "", Fingerprint(nil))

	in := []string{"z", "y"}
	Fingerprint(in)
	assert.Equal(t, []string{"z", "y"}, in)
}

func TestParseLink(t *testing.T) {
	tests := []struct {
		name       string
		link       string
		secret     string
		wantCode   string
		wantSecret string
		wantErr    bool
	}{
		{name: "code only", link: "https://115.com/s/sw3abc9", wantCode: "sw3abc9"},
		{name: "code and password", link: "https://115.com/s/sw3abc9?password=x1y2#", wantCode: "sw3abc9", wantSecret: "x1y2"},
		{name: "password after other params", link: "https://115cdn.com/s/SWQ77?foo=1&password=ab%2Bc", wantCode: "SWQ77", wantSecret: "ab+c"},
		{name: "explicit secret wins", link: "https://115.com/s/abc?password=old", secret: "new", wantCode: "abc", wantSecret: "new"},
		{name: "empty", link: "  ", wantErr: true},
		{name: "no code", link: "https://115.com/folder/abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := ParseLink(tt.link, tt.secret)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformedLink))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, ref.Code)
			assert.Equal(t, tt.wantSecret, ref.Secret)
		})
	}
}
