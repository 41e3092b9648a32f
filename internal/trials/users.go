package trials

import (
	"context"
	"fmt"

	"github.com/alexjbarnes/trialdesk/internal/models"
)

// UserService covers /users/.
type UserService struct {
	api Requester
}

// Me returns the logged-in user's profile.
func (s *UserService) Me(ctx context.Context) (models.User, error) {
	user, err := getJSON[models.User](ctx, s.api, "/users/me/", nil)
	if err != nil {
		return models.User{}, fmt.Errorf("getting current user: %w", err)
	}

	return user, nil
}
