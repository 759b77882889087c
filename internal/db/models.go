package db

import (
	"time"

	"gorm.io/datatypes"
)

// Item statuses.
const (
	ItemStatusNew        = "NEW"
	ItemStatusProcessing = "PROCESSING"
	ItemStatusProcessed  = "PROCESSED"
	ItemStatusError      = "ERROR"
)

// Canonical content statuses. A new version supersedes the prior row.
const (
	CanonicalStatusActive     = "active"
	CanonicalStatusSuperseded = "superseded"
)

// Source types, one schedule each.
const (
	SourceTypeTelegram = "telegram"
	SourceTypeWebsite  = "website"
)

// SourceConfig is the per-source normalization policy stored as JSON.
type SourceConfig struct {
	StripURLs        bool `json:"strip_urls"`
	StripEmojis      bool `json:"strip_emojis"`
	MinContentLength *int `json:"min_content_length,omitempty"`
	AllowMedia       bool `json:"allow_media"`
}

// Source maps fusion.sources.
type Source struct {
	SourceID        int64                             `gorm:"column:source_id;primaryKey;autoIncrement"`
	Name            string                            `gorm:"column:name;type:text;not null"`
	SourceType      string                            `gorm:"column:source_type;type:text;not null;index"`
	Locator         string                            `gorm:"column:locator;type:text;not null"`
	Config          datatypes.JSONType[SourceConfig] `gorm:"column:config;type:jsonb;not null"`
	Cursor          string                            `gorm:"column:cursor;type:text;not null;default:''"`
	CursorUpdatedAt *time.Time                        `gorm:"column:cursor_updated_at;type:timestamptz"`
	Enabled         bool                              `gorm:"column:enabled;not null;default:true"`
	DeletedAt       *time.Time                        `gorm:"column:deleted_at;type:timestamptz"`
	CreatedAt       time.Time                         `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Source) TableName() string { return "fusion.sources" }

// Item maps fusion.items, one raw ingested unit.
type Item struct {
	ItemID        int64      `gorm:"column:item_id;primaryKey;autoIncrement"`
	ParentItemID  *int64     `gorm:"column:parent_item_id;type:bigint"`
	SourceID      int64      `gorm:"column:source_id;type:bigint;not null;index"`
	ExternalID    string     `gorm:"column:external_id;type:text;not null;default:''"`
	GroupKey      string     `gorm:"column:group_key;type:text;not null;default:''"`
	Title         string     `gorm:"column:title;type:text;not null"`
	Content       string     `gorm:"column:content;type:text;not null"`
	ContentHash   string     `gorm:"column:content_hash;type:text;not null"`
	SourceURL     *string    `gorm:"column:source_url;type:text"`
	Language      string     `gorm:"column:language;type:text;not null;default:''"`
	PublishedAt   *time.Time `gorm:"column:published_at;type:timestamptz"`
	ScrapedAt     time.Time  `gorm:"column:scraped_at;type:timestamptz;not null;default:now()"`
	StoryNumber   *int64     `gorm:"column:story_number;type:bigint;index"`
	IsStoryLeader bool       `gorm:"column:is_story_leader;not null;default:false"`
	IsDuplicate   bool       `gorm:"column:is_duplicate;not null;default:false"`
	Status        string     `gorm:"column:status;type:text;not null;default:NEW"`
	ErrorMessage  *string    `gorm:"column:error_message;type:text"`
	DeletedAt     *time.Time `gorm:"column:deleted_at;type:timestamptz"`
	CreatedAt     time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Item) TableName() string { return "fusion.items" }

// StoryCounter is the single-row allocator for story numbers.
type StoryCounter struct {
	CounterID int16 `gorm:"column:counter_id;primaryKey"`
	LastValue int64 `gorm:"column:last_value;type:bigint;not null;default:0"`
}

func (StoryCounter) TableName() string { return "fusion.story_counters" }

// CanonicalContent maps fusion.canonical_contents.
type CanonicalContent struct {
	CanonicalID   int64                     `gorm:"column:canonical_id;primaryKey;autoIncrement"`
	CanonicalUUID string                    `gorm:"column:canonical_uuid;type:uuid;not null;unique"`
	StoryNumber   int64                     `gorm:"column:story_number;type:bigint;not null;index"`
	CategoryID    *int64                    `gorm:"column:category_id;type:bigint"`
	TitleEN       string                    `gorm:"column:title_en;type:text;not null"`
	TitleKH       string                    `gorm:"column:title_kh;type:text;not null;default:''"`
	ContentEN     string                    `gorm:"column:content_en;type:text;not null"`
	ContentKH     string                    `gorm:"column:content_kh;type:text;not null;default:''"`
	GeneratedFrom datatypes.JSONSlice[int64] `gorm:"column:generated_from;type:jsonb;not null"`
	Version       int                       `gorm:"column:version;type:integer;not null;default:1"`
	Published     bool                      `gorm:"column:published;not null;default:false"`
	PublishedAt   *time.Time                `gorm:"column:published_at;type:timestamptz"`
	Status        string                    `gorm:"column:status;type:text;not null;default:active"`
	CreatedAt     time.Time                 `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt     time.Time                 `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (CanonicalContent) TableName() string { return "fusion.canonical_contents" }

// Category maps fusion.categories.
type Category struct {
	CategoryID int64     `gorm:"column:category_id;primaryKey;autoIncrement"`
	NameEN     string    `gorm:"column:name_en;type:text;not null"`
	NameKH     string    `gorm:"column:name_kh;type:text;not null;default:''"`
	Slug       string    `gorm:"column:slug;type:text;not null;unique"`
	CreatedAt  time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Category) TableName() string { return "fusion.categories" }

// CategoryKeyword maps fusion.category_keywords.
type CategoryKeyword struct {
	KeywordID    int64      `gorm:"column:keyword_id;primaryKey;autoIncrement"`
	CategoryID   int64      `gorm:"column:category_id;type:bigint;not null;index"`
	Keyword      string     `gorm:"column:keyword;type:text;not null"`
	Language     string     `gorm:"column:language;type:text;not null;default:en"`
	Weight       float64    `gorm:"column:weight;type:double precision;not null;default:1"`
	IsExactMatch bool       `gorm:"column:is_exact_match;not null;default:false"`
	DeletedAt    *time.Time `gorm:"column:deleted_at;type:timestamptz"`
	CreatedAt    time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (CategoryKeyword) TableName() string { return "fusion.category_keywords" }

// Tag maps fusion.tags.
type Tag struct {
	TagID     int64     `gorm:"column:tag_id;primaryKey;autoIncrement"`
	NameEN    string    `gorm:"column:name_en;type:text;not null"`
	NameKH    string    `gorm:"column:name_kh;type:text;not null;default:''"`
	Slug      string    `gorm:"column:slug;type:text;not null;unique"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Tag) TableName() string { return "fusion.tags" }

// CanonicalContentTag maps fusion.canonical_content_tags.
type CanonicalContentTag struct {
	CanonicalID int64 `gorm:"column:canonical_id;primaryKey"`
	TagID       int64 `gorm:"column:tag_id;primaryKey"`
}

func (CanonicalContentTag) TableName() string { return "fusion.canonical_content_tags" }

// MediaAsset maps fusion.media_assets. Rows exist only for uploaded blobs.
type MediaAsset struct {
	MediaAssetID int64     `gorm:"column:media_asset_id;primaryKey;autoIncrement"`
	ItemID       int64     `gorm:"column:item_id;type:bigint;not null;index"`
	ObjectKey    string    `gorm:"column:object_key;type:text;not null;unique"`
	MimeType     string    `gorm:"column:mime_type;type:text;not null"`
	Width        int       `gorm:"column:width;type:integer;not null"`
	Height       int       `gorm:"column:height;type:integer;not null"`
	SizeBytes    int64     `gorm:"column:size_bytes;type:bigint;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (MediaAsset) TableName() string { return "fusion.media_assets" }

func autoMigrateModels() []any {
	return []any{
		&Source{},
		&Item{},
		&StoryCounter{},
		&CanonicalContent{},
		&Category{},
		&CategoryKeyword{},
		&Tag{},
		&CanonicalContentTag{},
		&MediaAsset{},
	}
}
