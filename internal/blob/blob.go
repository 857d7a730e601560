// Package blob хранит бинарные вложения (голосовые, файлы, аватары групп).
// Store: общий контракт для локального DiskStore или HTTP Client к сервису files.
package blob

import (
	"context"
	"errors"
	"io"
)

var (
	ErrBlockedExt = errors.New("blob: file type not allowed")
	ErrBadFolder  = errors.New("blob: invalid folder")
	ErrNotFound   = errors.New("blob: not found")
)

// Папки, используемые приложением.
const (
	FolderGroupAudio     = "group-audio"
	FolderEncryptedAudio = "encrypted-audio"
	FolderAttachments    = "attachments"
	FolderGroupAvatars   = "group-avatars"
)

// Object: результат загрузки, публичный URL и id для последующего удаления.
type Object struct {
	URL      string `json:"url"`
	PublicID string `json:"publicId"`
}

type Store interface {
	Upload(ctx context.Context, folder, fileName string, r io.Reader) (Object, error)
	Delete(ctx context.Context, publicID string) error
}
