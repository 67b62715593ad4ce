package protocol

// Client -> server message types.
const (
	TypeViewport  = "Viewport"
	TypeMove      = "Move"
	TypeTeleport  = "Teleport"
	TypeCollect   = "Collect"
	TypeGetPlayer = "GetPlayer"
)

// Server -> client message types.
const (
	TypePlayer              = "Player"
	TypeCollectibles        = "Collectibles"
	TypeMoved               = "Moved"
	TypeItemCollected       = "ItemCollected"
	TypeXPGained            = "XPGained"
	TypeLevelUp             = "LevelUp"
	TypeAchievementUnlocked = "AchievementUnlocked"
	TypeError               = "Error"
)

// Error codes carried by ErrorMsg.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeUnknownMessage     = "UNKNOWN_MESSAGE"
	CodeInvalidCoordinate  = "INVALID_COORDINATE"
	CodeInvalidZoom        = "INVALID_ZOOM"
	CodeAlreadyCollected   = "ALREADY_COLLECTED"
	CodeUnknownCollectible = "UNKNOWN_COLLECTIBLE"
	CodeNoActivePlayer     = "NO_ACTIVE_PLAYER"
	CodePersistence        = "PERSISTENCE"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternal           = "INTERNAL"
)
