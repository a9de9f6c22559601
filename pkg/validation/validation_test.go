package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const minimalSDP = "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\n"

func TestValidateRoomID(t *testing.T) {
	tests := []struct {
		name    string
		roomID  string
		wantErr bool
	}{
		{"valid", "standup-2024", false},
		{"dots allowed", "team.daily", false},
		{"empty", "", true},
		{"spaces", "room one", true},
		{"too long", strings.Repeat("r", 101), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRoomID(tt.roomID)
			assert.Equal(t, tt.wantErr, err != nil, "ValidateRoomID(%q) = %v", tt.roomID, err)
		})
	}
}

func TestValidatePeerID(t *testing.T) {
	assert.NoError(t, ValidatePeerID("peer_1-a"))
	assert.Error(t, ValidatePeerID(""))
	assert.Error(t, ValidatePeerID("peer.1"))
	assert.Error(t, ValidatePeerID(strings.Repeat("p", 101)))
}

func TestValidateDisplayName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "Alice", false},
		{"unicode", "Łukasz 🎧", false},
		{"blank", "   ", true},
		{"invalid utf8", string([]byte{0xff, 0xfe}), true},
		{"too long", strings.Repeat("x", 65), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDisplayName(tt.input)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestValidateURL(t *testing.T) {
	assert.NoError(t, ValidateURL("wss://relay.example.com/ws"))
	assert.NoError(t, ValidateURL("http://localhost:8081/poll"))
	assert.Error(t, ValidateURL(""))
	assert.Error(t, ValidateURL("ftp://relay.example.com"))
	assert.Error(t, ValidateURL("ws://"))
}

func TestValidateSDP(t *testing.T) {
	assert.NoError(t, ValidateSDP(minimalSDP))
	assert.Error(t, ValidateSDP(""))
	assert.Error(t, ValidateSDP("o=- 1 1 IN IP4 0.0.0.0"))
	assert.Error(t, ValidateSDP("v=0\r\ns=-\r\nt=0 0\r\n"))
	assert.Error(t, ValidateSDP("v=0\r\no=-\r\ns=-\r\nt=0 0\r\n"+strings.Repeat("a", MaxSDPBytes)))
}

func TestValidateCandidate(t *testing.T) {
	assert.NoError(t, ValidateCandidate(""))
	assert.NoError(t, ValidateCandidate("candidate:1 1 UDP 2122252543 192.168.1.2 50000 typ host"))
	assert.NoError(t, ValidateCandidate("a=candidate:1 1 UDP 2122252543 192.168.1.2 50000 typ host"))
	assert.Error(t, ValidateCandidate("garbage"))
}
