package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/soaringjerry/mofasa/internal/models"
)

const (
	BundleFormat  = "mofasa-project"
	BundleVersion = 1
)

// Limits on key parameters read back from a bundle file. Memory is in KiB.
const (
	saltSize     = 16
	maxKDFTime   = 16
	maxKDFMemory = 1 << 20
)

// KDFParams records the argon2id parameters a bundle key was derived with.
type KDFParams struct {
	Salt    []byte `json:"salt"`
	Time    uint32 `json:"time"`
	Memory  uint32 `json:"memory"`
	Threads uint8  `json:"threads"`
}

func (p KDFParams) validate() error {
	switch {
	case len(p.Salt) < saltSize:
		return NewInvalidError(fmt.Sprintf("bundle salt must be at least %d bytes", saltSize))
	case p.Time < 1 || p.Time > maxKDFTime:
		return NewInvalidError(fmt.Sprintf("bundle kdf time must be between 1 and %d", maxKDFTime))
	case p.Threads < 1:
		return NewInvalidError("bundle kdf threads must be at least 1")
	case p.Memory > maxKDFMemory:
		return NewInvalidError(fmt.Sprintf("bundle kdf memory must not exceed %d KiB", maxKDFMemory))
	}
	return nil
}

// Bundle is a portable copy of one project tree. When Encrypted, Project is
// nil and Ciphertext holds the sealed JSON tree.
type Bundle struct {
	ID         uuid.UUID       `json:"id"`
	Format     string          `json:"format"`
	Version    int             `json:"version"`
	CreatedAt  time.Time       `json:"createdAt"`
	Encrypted  bool            `json:"encrypted"`
	KDF        *KDFParams      `json:"kdf,omitempty"`
	Nonce      []byte          `json:"nonce,omitempty"`
	Project    *models.Project `json:"project,omitempty"`
	Ciphertext []byte          `json:"ciphertext,omitempty"`
}

type BundleStore interface {
	GetProject(ctx context.Context, id int64) (*models.Project, error)
	ImportProject(ctx context.Context, p models.Project) (int64, error)
}

type BundleService struct {
	store BundleStore
	log   *slog.Logger
	kdf   KDFParams
}

func NewBundleService(store BundleStore, logger *slog.Logger) *BundleService {
	if logger == nil {
		logger = slog.Default()
	}
	return &BundleService{store: store, log: logger, kdf: KDFParams{Time: 3, Memory: 64 * 1024, Threads: 2}}
}

// Export packs a project. An empty passphrase yields a plain bundle.
func (s *BundleService) Export(ctx context.Context, projectID, passphrase string) (*Bundle, error) {
	pid, err := ParseProjectID(projectID)
	if err != nil {
		return nil, err
	}
	p, err := s.store.GetProject(ctx, pid)
	if err != nil {
		return nil, storeError(err, "project")
	}
	b := &Bundle{ID: uuid.New(), Format: BundleFormat, Version: BundleVersion, CreatedAt: time.Now().UTC()}
	if passphrase == "" {
		b.Project = p
		return b, nil
	}

	plain, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode project: %w", err)
	}
	kdf := s.kdf
	kdf.Salt = make([]byte, saltSize)
	if _, err := rand.Read(kdf.Salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, kdf))
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	b.Encrypted = true
	b.KDF = &kdf
	b.Nonce = nonce
	b.Ciphertext = aead.Seal(nil, nonce, plain, b.ID[:])
	s.log.Info("project bundle sealed", "project", pid, "bundle", b.ID)
	return b, nil
}

// Import opens a bundle and stores its project as a new project.
func (s *BundleService) Import(ctx context.Context, b *Bundle, passphrase string) (int64, error) {
	if b == nil || b.Format != BundleFormat {
		return 0, NewInvalidError("not a project bundle")
	}
	if b.Version > BundleVersion {
		return 0, NewInvalidError(fmt.Sprintf("bundle version %d is newer than supported version %d", b.Version, BundleVersion))
	}
	p, err := s.open(b, passphrase)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(p.Name) == "" {
		return 0, NewInvalidError("bundle project has no name")
	}
	id, err := s.store.ImportProject(ctx, *p)
	if err != nil {
		return 0, storeError(err, "project")
	}
	s.log.Info("project bundle imported", "bundle", b.ID, "project", id)
	return id, nil
}

func (s *BundleService) open(b *Bundle, passphrase string) (*models.Project, error) {
	if !b.Encrypted {
		if b.Project == nil {
			return nil, NewInvalidError("bundle has no project")
		}
		return b.Project, nil
	}
	if passphrase == "" {
		return nil, NewInvalidError("bundle is encrypted; passphrase required")
	}
	if b.KDF == nil {
		return nil, NewInvalidError("bundle is missing key parameters")
	}
	if err := b.KDF.validate(); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, *b.KDF))
	if err != nil {
		return nil, err
	}
	if len(b.Nonce) != aead.NonceSize() {
		return nil, NewInvalidError("bundle nonce is malformed")
	}
	plain, err := aead.Open(nil, b.Nonce, b.Ciphertext, b.ID[:])
	if err != nil {
		return nil, NewInvalidError("wrong passphrase or corrupted bundle")
	}
	var p models.Project
	dec := json.NewDecoder(bytes.NewReader(plain))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, NewInvalidError("bundle project is malformed")
	}
	return &p, nil
}

func deriveKey(passphrase string, p KDFParams) []byte {
	return argon2.IDKey([]byte(passphrase), p.Salt, p.Time, p.Memory, p.Threads, chacha20poly1305.KeySize)
}
