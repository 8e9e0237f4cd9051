package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/SharefulNetworks/shareful-gsls/envelope"
	"github.com/SharefulNetworks/shareful-gsls/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Keygen_Fill_Sign_Round_Trip(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "me.pem")
	require.NoError(t, run([]string{"-keygen", "-key", keyPath}, nil, nil))

	var out bytes.Buffer
	partial := `{"displayName":"alice","platformGID":"p","profileLocation":"https://example.org/alice"}`
	require.NoError(t, run([]string{"-key", keyPath, "-fill"}, strings.NewReader(partial), &out))

	v, err := envelope.Verify(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "alice", v.Record.DisplayName)
	assert.Equal(t, 1, v.Record.Active)

	var gid bytes.Buffer
	require.NoError(t, run([]string{"-derive", "-key", keyPath, "-salt", v.Record.Salt}, nil, &gid))
	assert.Equal(t, v.Record.GlobalID, strings.TrimSpace(gid.String()))
	assert.True(t, identity.VerifyGID(v.Record.GlobalID, v.Record.PersonalPublicKey, v.Record.Salt))
}

func Test_Keygen_Does_Not_Overwrite(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "me.pem")
	require.NoError(t, run([]string{"-keygen", "-key", keyPath}, nil, nil))
	before, err := os.ReadFile(keyPath)
	require.NoError(t, err)

	assert.Error(t, run([]string{"-keygen", "-key", keyPath}, nil, nil))
	after, err := os.ReadFile(keyPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func Test_Sign_Refuses_Record_Of_Another_Identity(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "me.pem")
	require.NoError(t, run([]string{"-keygen", "-key", keyPath}, nil, nil))

	var out bytes.Buffer
	require.NoError(t, run([]string{"-key", keyPath, "-fill"}, strings.NewReader(`{}`), &out))
	v, err := envelope.Verify(strings.TrimSpace(out.String()))
	require.NoError(t, err)

	//the same record signed by a different key does not self-certify.
	raw, err := v.Record.Marshal()
	require.NoError(t, err)
	otherKey := filepath.Join(dir, "other.pem")
	require.NoError(t, run([]string{"-keygen", "-key", otherKey}, nil, nil))
	err = run([]string{"-key", otherKey}, bytes.NewReader(raw), &bytes.Buffer{})
	assert.ErrorIs(t, err, envelope.ErrBadSignature)
}

func Test_Missing_Key_Flag(t *testing.T) {
	assert.Error(t, run(nil, nil, nil))
	assert.Error(t, run([]string{"-derive", "-key", filepath.Join(t.TempDir(), "missing.pem"), "-salt", "AAAAAAAAAAAAAAAA"}, nil, nil))
}
