package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchemaValidate(t *testing.T) {
	tests := []struct {
		name    string
		schema  Schema
		wantErr bool
	}{
		{
			name:   "valid fields",
			schema: Schema{"title": FieldText, "done": FieldBoolean, "priority_level": FieldInteger},
		},
		{
			name:    "reserved id",
			schema:  Schema{"id": FieldText},
			wantErr: true,
		},
		{
			name:    "reserved data",
			schema:  Schema{"data": FieldText},
			wantErr: true,
		},
		{
			name:    "reserved lastEventId column",
			schema:  Schema{"_lasteventId": FieldText},
			wantErr: true,
		},
		{
			name:    "invalid character",
			schema:  Schema{"title-field": FieldText},
			wantErr: true,
		},
		{
			name:   "empty schema is valid",
			schema: Schema{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.schema.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidField)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestEventAccepted(t *testing.T) {
	seq := int64(42)

	tests := []struct {
		name string
		evt  Event
		want bool
	}{
		{name: "pending event has no sequence", evt: Event{}, want: false},
		{name: "accepted event carries a sequence", evt: Event{ServerSequence: &seq}, want: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.evt.Accepted())
		})
	}
}

func TestConfigValueConstructors(t *testing.T) {
	assert.Equal(t, ConfigValue{Kind: ConfigString, String: "hello"}, NewConfigString("hello"))
	assert.Equal(t, ConfigValue{Kind: ConfigBool, Bool: true}, NewConfigBool(true))
	assert.Equal(t, ConfigValue{Kind: ConfigInt, Int: 7}, NewConfigInt(7))
}
