package gallery

import (
	"errors"
	"strings"

	"github.com/MrCodeEU/faceattend/pkg/storage"
)

// Files reads and replaces whole files.
type Files interface {
	FileReader
	WriteFile(path string, data []byte) error
}

// NormalizeName turns a display name into the stored form: trimmed,
// inner spaces replaced with underscores, upper-case.
func NormalizeName(name string) string {
	return strings.ToUpper(strings.Join(strings.Fields(name), "_"))
}

// Put inserts or replaces an identity in the gallery file at path.
// A replaced identity keeps its position. A missing file starts empty.
func Put(path string, files Files, id Identity) error {
	identities, err := readForEdit(path, files)
	if err != nil {
		return err
	}

	replaced := false
	for i := range identities {
		if identities[i].Name == id.Name {
			identities[i].Signature = id.Signature
			replaced = true
			break
		}
	}
	if !replaced {
		identities = append(identities, id)
	}

	return writeGallery(path, files, identities)
}

// Remove deletes the named identity from the gallery file at path.
func Remove(path string, files Files, name string) error {
	identities, err := readForEdit(path, files)
	if err != nil {
		return err
	}

	for i := range identities {
		if identities[i].Name == name {
			identities = append(identities[:i], identities[i+1:]...)
			return writeGallery(path, files, identities)
		}
	}
	return ErrIdentityNotFound
}

func readForEdit(path string, files Files) ([]Identity, error) {
	data, err := files.ReadFile(path)
	if errors.Is(err, storage.ErrFileNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	identities, err := Parse(data)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return identities, nil
}

func writeGallery(path string, files Files, identities []Identity) error {
	data, err := Marshal(identities)
	if err != nil {
		return err
	}
	return files.WriteFile(path, data)
}
