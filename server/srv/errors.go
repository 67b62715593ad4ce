package srv

import (
	"errors"

	"geoquest/server/engine"
	"geoquest/server/player"
	"geoquest/shared/protocol"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{engine.ErrInvalidCoordinate, protocol.CodeInvalidCoordinate},
	{engine.ErrInvalidZoom, protocol.CodeInvalidZoom},
	{engine.ErrAlreadyCollected, protocol.CodeAlreadyCollected},
	{engine.ErrUnknownCollectible, protocol.CodeUnknownCollectible},
	{engine.ErrNoActivePlayer, protocol.CodeNoActivePlayer},
	{engine.ErrPersistence, protocol.CodePersistence},
	{engine.ErrNegativeXP, protocol.CodeBadRequest},
	{player.ErrInvalidName, protocol.CodeBadRequest},
}

// errorCode maps an engine error to the code clients switch on.
func errorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return protocol.CodeInternal
}
