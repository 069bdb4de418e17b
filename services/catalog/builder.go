package catalog

import (
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"cloudplay/models"
)

var (
	seasonEpisodeRegex = regexp.MustCompile(`(?i)s\d{1,2}[ ._-]*e(\d{1,3})`)
	episodeMarkerRegex = regexp.MustCompile(`(?i)(?:^|[ ._-])(?:ep?|episode)[ ._-]*(\d{1,3})`)
	leadingNumberRegex = regexp.MustCompile(`^(\d{1,3})(?:[ ._-]|$)`)
)

// Classification is the tagged result of classifying one remote file by its
// path prefix. Show and Season are set only for episodes; Folder only for
// movies.
type Classification struct {
	Kind   models.MediaKind
	Folder string
	Show   string
	Season string
}

// Roots configures the path prefixes the builder classifies against.
type Roots struct {
	Movies string
	Series string
}

// Classify decides whether a display path names a movie file, an episode
// file, or neither. Matching is done on the lowercased path so case variants
// of the configured roots still classify.
func Classify(displayPath string, roots Roots) Classification {
	segments := splitUnderRoot(displayPath, roots.Movies)
	if segments != nil {
		folder := path.Base(strings.TrimSuffix(roots.Movies, "/"))
		if len(segments) > 1 {
			folder = segments[len(segments)-2]
		}
		return Classification{Kind: models.MediaKindMovie, Folder: folder}
	}

	segments = splitUnderRoot(displayPath, roots.Series)
	if segments != nil {
		switch {
		case len(segments) >= 3:
			return Classification{Kind: models.MediaKindEpisode, Show: segments[0], Season: segments[1]}
		case len(segments) == 2:
			// Episode file sitting directly in the show folder.
			return Classification{Kind: models.MediaKindEpisode, Show: segments[0], Season: "Season 1"}
		}
	}

	return Classification{Kind: models.MediaKindUnclassified}
}

// splitUnderRoot returns the path segments below root, or nil when the path
// is not under root.
func splitUnderRoot(displayPath, root string) []string {
	lowerPath := strings.ToLower(displayPath)
	lowerRoot := strings.ToLower(strings.TrimSuffix(root, "/"))
	if lowerRoot == "" || !strings.HasPrefix(lowerPath, lowerRoot+"/") {
		return nil
	}
	rest := displayPath[len(lowerRoot)+1:]
	segments := strings.Split(rest, "/")
	if len(segments) == 0 || segments[len(segments)-1] == "" {
		return nil
	}
	return segments
}

// BuildCatalog folds a FileIndex into the two-shape content model. It is a
// pure, deterministic function of its inputs: the same index yields identical
// output regardless of map iteration order.
func BuildCatalog(index models.FileIndex, roots Roots, videoExts map[string]struct{}) models.Catalog {
	files := make([]models.RemoteFile, 0, len(index))
	for _, file := range index {
		files = append(files, file)
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].PathLower == files[j].PathLower {
			return files[i].ID < files[j].ID
		}
		return files[i].PathLower < files[j].PathLower
	})

	var movies []models.Movie
	type seriesAccumulator struct {
		name       string
		folderPath string
		seasons    map[string][]models.Episode
	}
	shows := make(map[string]*seriesAccumulator)
	var showOrder []string

	for _, file := range files {
		ext := strings.ToLower(path.Ext(file.Name))
		if _, ok := videoExts[ext]; !ok {
			continue
		}

		cls := Classify(file.PathDisplay, roots)
		switch cls.Kind {
		case models.MediaKindMovie:
			movies = append(movies, models.Movie{
				ID:          file.ID,
				Name:        file.Name,
				Path:        file.PathDisplay,
				FolderName:  cls.Folder,
				DisplayName: displayName(cls.Folder),
			})
		case models.MediaKindEpisode:
			key := strings.ToLower(cls.Show)
			acc, ok := shows[key]
			if !ok {
				acc = &seriesAccumulator{
					name:       cls.Show,
					folderPath: path.Dir(path.Dir(file.PathDisplay)),
					seasons:    make(map[string][]models.Episode),
				}
				shows[key] = acc
				showOrder = append(showOrder, key)
			}
			number, _ := ParseEpisodeNumber(file.Name)
			acc.seasons[cls.Season] = append(acc.seasons[cls.Season], models.Episode{
				ID:            file.ID,
				Name:          file.Name,
				Path:          file.PathDisplay,
				EpisodeNumber: number,
			})
		}
	}

	sort.Slice(movies, func(i, j int) bool {
		if movies[i].DisplayName == movies[j].DisplayName {
			return movies[i].Path < movies[j].Path
		}
		return movies[i].DisplayName < movies[j].DisplayName
	})

	sort.Strings(showOrder)
	series := make([]models.Series, 0, len(showOrder))
	for _, key := range showOrder {
		acc := shows[key]
		for label := range acc.seasons {
			sortEpisodes(acc.seasons[label])
		}
		series = append(series, models.Series{
			Name:       acc.name,
			FolderPath: acc.folderPath,
			Seasons:    acc.seasons,
		})
	}

	return models.Catalog{Movies: movies, Series: series}
}

// ParseEpisodeNumber extracts an episode number from a filename using the
// usual season/episode markers (S01E02, E02, Ep 2, Episode 2) with a leading
// bare number as last resort. Returns false when nothing parses.
func ParseEpisodeNumber(name string) (int, bool) {
	base := strings.TrimSuffix(name, path.Ext(name))

	for _, re := range []*regexp.Regexp{seasonEpisodeRegex, episodeMarkerRegex, leadingNumberRegex} {
		if m := re.FindStringSubmatch(base); m != nil {
			n, err := strconv.Atoi(m[1])
			if err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// sortEpisodes orders a season: parsed episode numbers ascending first, then
// episodes with no parseable number, ordered among themselves by filename.
func sortEpisodes(episodes []models.Episode) {
	sort.SliceStable(episodes, func(i, j int) bool {
		iParsed := episodes[i].EpisodeNumber > 0
		jParsed := episodes[j].EpisodeNumber > 0
		if iParsed != jParsed {
			return iParsed
		}
		if iParsed && episodes[i].EpisodeNumber != episodes[j].EpisodeNumber {
			return episodes[i].EpisodeNumber < episodes[j].EpisodeNumber
		}
		return episodes[i].Name < episodes[j].Name
	})
}

// SortedSeasonLabels returns a series' season labels in natural order, so
// "Season 10" sorts after "Season 2".
func SortedSeasonLabels(s models.Series) []string {
	labels := make([]string, 0, len(s.Seasons))
	for label := range s.Seasons {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		return naturalLess(labels[i], labels[j])
	})
	return labels
}

// naturalLess compares two strings treating digit runs as numbers.
func naturalLess(a, b string) bool {
	for a != "" && b != "" {
		aNum, aRest, aIsNum := leadingChunk(a)
		bNum, bRest, bIsNum := leadingChunk(b)
		if aIsNum && bIsNum {
			an, _ := strconv.Atoi(aNum)
			bn, _ := strconv.Atoi(bNum)
			if an != bn {
				return an < bn
			}
		} else if aNum != bNum {
			return aNum < bNum
		}
		a, b = aRest, bRest
	}
	return a < b
}

// leadingChunk splits off the leading run of digits or non-digits.
func leadingChunk(s string) (chunk, rest string, isNum bool) {
	isNum = s[0] >= '0' && s[0] <= '9'
	for i := 0; i < len(s); i++ {
		digit := s[i] >= '0' && s[i] <= '9'
		if digit != isNum {
			return s[:i], s[i:], isNum
		}
	}
	return s, "", isNum
}

// displayName turns a folder name like "The.Big.Heist (1999)" into a
// friendlier title by collapsing dot and underscore separators.
func displayName(folder string) string {
	name := strings.NewReplacer(".", " ", "_", " ").Replace(folder)
	return strings.Join(strings.Fields(name), " ")
}
