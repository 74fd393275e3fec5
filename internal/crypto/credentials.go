package crypto

import (
	apperrors "github.com/kimhsiao/tasksync/internal/errors"
	"github.com/kimhsiao/tasksync/internal/replica"
)

const credentialPrefix = "credential/"

// CredentialStore keeps one encrypted remote credential per user next to the
// durable area. Keys are bound to the machine and the user, so a copied
// database cannot be decrypted elsewhere or by another user.
type CredentialStore struct {
	blobs     replica.Blobs
	machineID string
}

// NewCredentialStore creates a store. An empty machineID uses MachineID().
func NewCredentialStore(blobs replica.Blobs, machineID string) *CredentialStore {
	if machineID == "" {
		machineID = MachineID()
	}
	return &CredentialStore{blobs: blobs, machineID: machineID}
}

func (s *CredentialStore) key(userID string) ([]byte, error) {
	return DeriveKey([]byte(s.machineID), "credential:"+userID)
}

// Save encrypts and stores secret for userID.
func (s *CredentialStore) Save(userID, secret string) error {
	if userID == "" || secret == "" {
		return apperrors.Validation("user and credential are required")
	}
	key, err := s.key(userID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "derive credential key", err)
	}
	sealed, err := Seal([]byte(secret), key)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "encrypt credential", err)
	}
	if err := s.blobs.SetMany(map[string][]byte{credentialPrefix + userID: []byte(sealed)}); err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, "store credential", err)
	}
	return nil
}

// Load returns the stored credential of userID. ok is false when none is
// stored.
func (s *CredentialStore) Load(userID string) (secret string, ok bool, err error) {
	data, ok, err := s.blobs.Get(credentialPrefix + userID)
	if err != nil {
		return "", false, apperrors.Wrap(apperrors.ErrPersistence, "read credential", err)
	}
	if !ok {
		return "", false, nil
	}
	key, err := s.key(userID)
	if err != nil {
		return "", false, apperrors.Wrap(apperrors.ErrInternal, "derive credential key", err)
	}
	plain, err := Open(string(data), key)
	if err != nil {
		return "", false, apperrors.Wrap(apperrors.ErrValidation, "stored credential cannot be decrypted on this machine", err)
	}
	return string(plain), true, nil
}

// Delete removes the stored credential of userID.
func (s *CredentialStore) Delete(userID string) error {
	if err := s.blobs.DeleteMany(credentialPrefix + userID); err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, "delete credential", err)
	}
	return nil
}
