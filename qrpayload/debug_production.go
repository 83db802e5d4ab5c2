//go:build production

package qrpayload

import "station-svc/models"

func DebugPayload() (models.Payload, bool) {
	return models.Payload{}, false
}
