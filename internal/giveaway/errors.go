package giveaway

import "errors"

var (
	ErrInvalidDuration = errors.New("invalid giveaway duration")
	ErrNotStarted      = errors.New("giveaway has not started")
	ErrAlreadyEnded    = errors.New("giveaway already ended")
	ErrNotEnded        = errors.New("giveaway has not ended")
	ErrNoEntrants      = errors.New("giveaway has no entrants")
	ErrNotActive       = errors.New("giveaway is not active")
	ErrEventNotFound   = errors.New("giveaway not found")
	ErrInvalidEvent    = errors.New("invalid giveaway")

	// 外部連携の失敗。ログに残すのみでイベントの状態には影響しない
	ErrRequirementLookupFailed = errors.New("requirement lookup failed")
	ErrAnnouncementFailed      = errors.New("announcement failed")
	ErrNotifyFailed            = errors.New("notify failed")
)
