package models

// RemoteFile is an immutable snapshot of one remote listing entry.
type RemoteFile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PathLower   string `json:"pathLower"`
	PathDisplay string `json:"pathDisplay"`
	SizeBytes   int64  `json:"sizeBytes"`
}

// FileIndex is the complete set of remote files discovered in one enumeration
// pass, keyed by file ID. IDs are unique; path_lower is a derived matching key
// and is not assumed unique across case variants.
type FileIndex map[string]RemoteFile

// MediaKind tags how a remote file was classified by the catalog builder.
type MediaKind string

const (
	MediaKindMovie        MediaKind = "movie"
	MediaKindEpisode      MediaKind = "episode"
	MediaKindUnclassified MediaKind = "unclassified"
)

// Movie is one top-level video file under the movies root.
type Movie struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Path            string `json:"path"`
	FolderName      string `json:"folderName"`
	DisplayName     string `json:"displayName"`
	ThumbnailPath   string `json:"thumbnailPath,omitempty"`
	DescriptionPath string `json:"descriptionPath,omitempty"`
}

// Episode is one video file belonging to exactly one (series, season) pair.
// EpisodeNumber is 0 when no number could be parsed from the filename.
type Episode struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Path          string `json:"path"`
	EpisodeNumber int    `json:"episodeNumber"`
}

// Series groups episodes by season label. Season labels are opaque strings
// used only for grouping and tab ordering.
type Series struct {
	Name            string               `json:"name"`
	FolderPath      string               `json:"folderPath"`
	Seasons         map[string][]Episode `json:"seasons"`
	ThumbnailPath   string               `json:"thumbnailPath,omitempty"`
	DescriptionPath string               `json:"descriptionPath,omitempty"`
}

// Catalog is the derived movie/series view built from one complete remote
// enumeration. Rebuilt wholesale on refresh, never patched incrementally.
type Catalog struct {
	Movies []Movie  `json:"movies"`
	Series []Series `json:"series"`
}

// CatalogEntry identifies one playable item and where it lives remotely.
type CatalogEntry struct {
	ID   string    `json:"id"`
	Kind MediaKind `json:"kind"`
	Name string    `json:"name"`
	Path string    `json:"path"`
}
