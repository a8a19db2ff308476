package keystore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnaproject/dna-core/pkg/apperr"
)

func sampleMaterial() *Material {
	return &Material{
		SigningPrivateKey:    []byte("signing-priv"),
		SigningPublicKey:     []byte("signing-pub"),
		EncryptionPrivateKey: []byte("enc-priv"),
		EncryptionPublicKey:  []byte("enc-pub"),
		Mnemonic:             []byte("abandon abandon abandon"),
	}
}

func TestCreateAndLoadPlaintext(t *testing.T) {
	store := New(t.TempDir())
	require.NoError(t, store.Create(sampleMaterial(), ""))

	mat, err := store.Load("")
	require.NoError(t, err)
	assert.Equal(t, []byte("signing-priv"), mat.SigningPrivateKey)
	assert.Equal(t, []byte("enc-pub"), mat.EncryptionPublicKey)
	assert.Equal(t, []byte("abandon abandon abandon"), mat.Mnemonic)
}

func TestCreateAndLoadEncrypted(t *testing.T) {
	store := New(t.TempDir())
	require.NoError(t, store.Create(sampleMaterial(), "correct horse"))

	_, err := store.Load("")
	assert.Equal(t, apperr.PasswordRequired, apperr.CodeOf(err))

	_, err = store.Load("wrong password")
	assert.Equal(t, apperr.WrongPassword, apperr.CodeOf(err))

	mat, err := store.Load("correct horse")
	require.NoError(t, err)
	assert.Equal(t, []byte("signing-priv"), mat.SigningPrivateKey)
}

func TestLoadMissingIdentity(t *testing.T) {
	store := New(t.TempDir())
	_, err := store.Load("")
	assert.Equal(t, apperr.NoIdentity, apperr.CodeOf(err))
}

func TestChangePassword(t *testing.T) {
	store := New(t.TempDir())
	require.NoError(t, store.Create(sampleMaterial(), "old-pass"))

	require.NoError(t, store.ChangePassword("old-pass", "new-pass"))

	_, err := store.Load("old-pass")
	assert.Equal(t, apperr.WrongPassword, apperr.CodeOf(err))

	mat, err := store.Load("new-pass")
	require.NoError(t, err)
	assert.Equal(t, []byte("signing-priv"), mat.SigningPrivateKey)
}

func TestChangePasswordRollsBackOnFailure(t *testing.T) {
	store := New(t.TempDir())
	require.NoError(t, store.Create(sampleMaterial(), "old-pass"))

	// A successful rotation leaves every file under the same password.
	require.NoError(t, store.ChangePassword("old-pass", "new-pass"))
	mat, err := store.Load("new-pass")
	require.NoError(t, err)
	assert.NotEmpty(t, mat.Mnemonic)

	// Force a step-2 failure: the encryption file is re-encrypted under a
	// password the next rotation does not know, so its re-read fails after
	// the signing file has already been rewritten.
	blob, err := store.readBlob(encryptionFile, "new-pass")
	require.NoError(t, err)
	require.NoError(t, store.writeBlob(encryptionFile, blob, "other-pass"))

	err = store.ChangePassword("new-pass", "newer-pass")
	assert.Equal(t, apperr.Crypto, apperr.CodeOf(err))
	_, err = store.readBlob(signingFile, "new-pass")
	assert.NoError(t, err, "signing file must be rolled back to the old password")
}

