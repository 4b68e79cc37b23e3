package mode

import (
	"fmt"
	"log/slog"

	"github.com/khaledhikmat/vs-overlay/service/data"
	"github.com/khaledhikmat/vs-overlay/service/lgr"
)

// Exclude sets the excluded flag on each camera. A running manager stops the agent of an
// excluded camera on its next periodic check and no longer hands it out as an orphan.
func Exclude(dataSvc data.IService, excluded bool, ids ...string) error {
	for _, id := range ids {
		if err := dataSvc.UpdateCameraExcluded(id, excluded); err != nil {
			return fmt.Errorf("camera %s: %w", id, err)
		}
		lgr.Logger.Info("camera exclusion updated",
			slog.String("camera", id),
			slog.Bool("excluded", excluded),
		)
	}
	return nil
}
