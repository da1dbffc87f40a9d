package graph

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// rawItem mirrors the Graph API driveItem JSON shape, decoding only the
// fields the engine reads: id, name, eTag, cTag, parentReference.id,
// fileSystemInfo.lastModifiedDateTime, the four presence markers
// (deleted, root, file, folder), and file.hashes.crc32Hash. Every other
// API field is ignored at this boundary.
type rawItem struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	ETag            string           `json:"eTag"`
	CTag            string           `json:"cTag"`
	ParentReference *rawParentRef    `json:"parentReference"`
	FileSystemInfo  *rawFSInfo       `json:"fileSystemInfo"`
	File            *rawFileFacet    `json:"file"`
	Folder          *json.RawMessage `json:"folder"`
	Root            *json.RawMessage `json:"root"`
	Deleted         *json.RawMessage `json:"deleted"`
	DownloadURL     string           `json:"@microsoft.graph.downloadUrl"` //nolint:tagliatelle // Graph API annotation key
}

type rawParentRef struct {
	ID string `json:"id"`
}

type rawFSInfo struct {
	LastModifiedDateTime string `json:"lastModifiedDateTime"`
}

type rawFileFacet struct {
	Hashes *rawHashFacet `json:"hashes"`
}

type rawHashFacet struct {
	CRC32Hash string `json:"crc32Hash"`
}

// classify interprets one remote item JSON blob as deleted -> root ->
// file -> folder -> unsupported, checked in that order so deletion always
// wins over type. A missing or malformed required field (id, name, eTag,
// parentReference.id, fileSystemInfo.lastModifiedDateTime) on a file or
// folder degrades it to KindUnsupported rather than raising a decode
// error: explicit presence checks, not an error path, for this case.
func classify(body []byte, logger *slog.Logger) (Item, error) {
	var raw rawItem
	if err := json.Unmarshal(body, &raw); err != nil {
		return Item{}, fmt.Errorf("graph: decoding item: %w", err)
	}

	item := Item{
		ID:          raw.ID,
		Name:        raw.Name,
		ETag:        raw.ETag,
		CTag:        raw.CTag,
		DownloadURL: raw.DownloadURL,
	}

	if raw.ParentReference != nil {
		item.ParentID = raw.ParentReference.ID
	}

	switch {
	case raw.Deleted != nil:
		item.Kind = KindDeleted
		return item, nil

	case raw.Root != nil:
		// The drive root carries a folder facet too, but root must be
		// checked first: every real top-level item's parentReference.id
		// points at this item's id, and indexing it as an ordinary
		// folder would prepend its name to every derived path.
		item.Kind = KindRoot
		return item, nil

	case raw.File != nil:
		item.Kind = KindFile

		if raw.File.Hashes != nil {
			item.CRC32 = raw.File.Hashes.CRC32Hash
		}

	case raw.Folder != nil:
		item.Kind = KindFolder

	default:
		item.Kind = KindUnsupported
		logger.Debug("classified item as unsupported",
			slog.String("item_id", raw.ID),
			slog.String("name", raw.Name),
		)

		return item, nil
	}

	if item.ID == "" || item.Name == "" || item.ETag == "" || item.ParentID == "" ||
		raw.FileSystemInfo == nil || raw.FileSystemInfo.LastModifiedDateTime == "" {
		logger.Debug("item missing required field, treating as unsupported",
			slog.String("item_id", raw.ID),
			slog.String("name", raw.Name),
		)

		item.Kind = KindUnsupported

		return item, nil
	}

	mtime, err := time.Parse(time.RFC3339, raw.FileSystemInfo.LastModifiedDateTime)
	if err != nil {
		logger.Debug("item has unparsable mtime, treating as unsupported",
			slog.String("item_id", raw.ID),
			slog.String("raw_mtime", raw.FileSystemInfo.LastModifiedDateTime),
		)

		item.Kind = KindUnsupported

		return item, nil
	}

	item.Mtime = mtime

	return item, nil
}
