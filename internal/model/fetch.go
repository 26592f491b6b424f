package model

// FetchRequest addresses a single file in a remote content repository.
type FetchRequest struct {
	Repository string
	Ref        string
	Path       string
	Credential string
}

// FetchedFile is the successful half of a fetch; failures are *errors.FetchError.
type FetchedFile struct {
	Repository string
	Ref        string
	Path       string
	SHA        string
	Content    string
	SizeBytes  int64
}

// Source labels reported with every resolved prompt.
const (
	SourceOrigin         = "origin"
	SourceStale          = "stale"
	SourceDegradedSchema = "degraded-schema"
	SourceDefault        = "default"
	SourceEmergency      = "emergency"
)

// CacheSource returns the label for a hit at the given tier.
func CacheSource(t Tier) string {
	return "cache:" + string(t)
}

// ResolvedPrompt is what callers receive from a resolution call.
type ResolvedPrompt struct {
	Content  string `json:"content"`
	Source   string `json:"source"`
	FilePath string `json:"file_path,omitempty"`
	CacheKey string `json:"cache_key,omitempty"`
}
