package mailbox

import (
	"fmt"
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
)

func TestLastDescending(t *testing.T) {
	tests := []struct {
		uids     []imap.UID
		limit    int
		expected []imap.UID
	}{
		{
			uids:     []imap.UID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
			limit:    3,
			expected: []imap.UID{10, 9, 8},
		},
		{
			uids:     []imap.UID{1, 2, 3},
			limit:    10,
			expected: []imap.UID{3, 2, 1},
		},
		{
			uids:     []imap.UID{1, 2, 3},
			limit:    0,
			expected: []imap.UID{3, 2, 1},
		},
		{
			uids:     []imap.UID{},
			limit:    5,
			expected: []imap.UID{},
		},
		{
			// Server order is not guaranteed; the newest-first contract
			// is over identifier order, not response order.
			uids:     []imap.UID{7, 2, 9, 4},
			limit:    2,
			expected: []imap.UID{9, 7},
		},
	}

	for i, tt := range tests {
		t.Run(fmt.Sprintf("Case_%d", i), func(t *testing.T) {
			assert.Equal(t, tt.expected, lastDescending(tt.uids, tt.limit))
		})
	}
}

func TestHasFlag(t *testing.T) {
	assert.True(t, hasFlag([]imap.Flag{imap.FlagAnswered, imap.FlagSeen}, imap.FlagSeen))
	assert.True(t, hasFlag([]imap.Flag{"\\seen"}, imap.FlagSeen))
	assert.False(t, hasFlag([]imap.Flag{imap.FlagAnswered}, imap.FlagSeen))
	assert.False(t, hasFlag(nil, imap.FlagSeen))
}
