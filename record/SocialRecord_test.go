package record_test

import (
	"encoding/json"
	"testing"

	"github.com/SharefulNetworks/shareful-gsls/envelope/envelopetest"
	"github.com/SharefulNetworks/shareful-gsls/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordJSON(t *testing.T, mutate func(m map[string]any)) []byte {
	t.Helper()
	id := envelopetest.NewIdentity(t, envelopetest.Ed25519)
	raw, err := id.Record("alice").Marshal()
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	if mutate != nil {
		mutate(m)
	}
	out, err := json.Marshal(m)
	require.NoError(t, err)
	return out
}

func Test_Decode_Valid_Record(t *testing.T) {
	rec, err := record.Decode(recordJSON(t, nil))
	require.NoError(t, err)
	require.NoError(t, rec.Validate())
	assert.True(t, rec.CheckIdentity())
	assert.True(t, rec.IsActive())
	assert.False(t, rec.Time().IsZero())
	assert.Equal(t, "alice", rec.DisplayName)
}

func Test_Decode_Ignores_Unknown_Fields(t *testing.T) {
	rec, err := record.Decode(recordJSON(t, func(m map[string]any) { m["extra"] = "x" }))
	require.NoError(t, err)
	assert.NoError(t, rec.Validate())
}

func Test_Decode_Reports_Missing_Field(t *testing.T) {
	for _, field := range record.RequiredFields {
		_, err := record.Decode(recordJSON(t, func(m map[string]any) { delete(m, field) }))
		require.ErrorIs(t, err, record.ErrMissingField, field)

		var fe *record.FieldError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, field, fe.Field)
	}

	_, err := record.Decode(recordJSON(t, func(m map[string]any) { m["salt"] = nil }))
	assert.ErrorIs(t, err, record.ErrMissingField)
}

func Test_Decode_Rejects_Wrong_Types(t *testing.T) {
	_, err := record.Decode([]byte("[1,2]"))
	assert.ErrorIs(t, err, record.ErrMalformed)

	_, err = record.Decode([]byte("null"))
	assert.ErrorIs(t, err, record.ErrMalformed)

	_, err = record.Decode(recordJSON(t, func(m map[string]any) { m["active"] = "yes" }))
	require.ErrorIs(t, err, record.ErrMalformed)
	var fe *record.FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "active", fe.Field)
}

func Test_Validate_Names_Offending_Field(t *testing.T) {
	revoked := func(key, at string) []record.KeyRevocation {
		return []record.KeyRevocation{{Key: key, Datetime: at}}
	}
	cases := map[string]func(r *record.SocialRecord){
		"type":                          func(r *record.SocialRecord) { r.Type = "" },
		"globalID":                      func(r *record.SocialRecord) { r.GlobalID = "" },
		"datetime":                      func(r *record.SocialRecord) { r.Datetime = "2024-01-01 10:00" },
		"personalPublicKey":             func(r *record.SocialRecord) { r.PersonalPublicKey = "%%%" },
		"accountPublicKey":              func(r *record.SocialRecord) { r.AccountPublicKey = "" },
		"salt":                          func(r *record.SocialRecord) { r.Salt = "tooshort" },
		"active":                        func(r *record.SocialRecord) { r.Active = 2 },
		"keyRevocationList[0].key":      func(r *record.SocialRecord) { r.KeyRevocationList = revoked("*", "2024-01-01T00:00:00Z") },
		"keyRevocationList[0].datetime": func(r *record.SocialRecord) { r.KeyRevocationList = revoked("aGVsbG8=", "yesterday") },
	}

	id := envelopetest.NewIdentity(t, envelopetest.Ed25519)
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			rec := id.Record("bob")
			mutate(rec)
			err := rec.Validate()
			require.ErrorIs(t, err, record.ErrInvalidField)

			var fe *record.FieldError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, field, fe.Field)
		})
	}
}

func Test_Check_Identity_Fails_For_Foreign_Salt(t *testing.T) {
	id := envelopetest.NewIdentity(t, envelopetest.Ed25519)
	rec := id.Record("carol")
	rec.Salt = envelopetest.NewSalt(t)
	assert.NoError(t, rec.Validate())
	assert.False(t, rec.CheckIdentity())
}

func Test_Marshal_Emits_Empty_Revocation_List(t *testing.T) {
	id := envelopetest.NewIdentity(t, envelopetest.Ed25519)
	rec := id.Record("dave")
	rec.KeyRevocationList = nil

	raw, err := rec.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"keyRevocationList":[]`)

	back, err := record.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, rec.GlobalID, back.GlobalID)
}
