package orphan

import "github.com/khaledhikmat/vs-overlay/model"

// IService hands orphaned cameras to the agents manager. A manager that is full unsubscribes
// so that other pods get the cameras.
type IService interface {
	Subscribe() (<-chan []model.Camera, error)
	Unsubscribe() error
	Subscribed() bool
}
