package tools

import (
	"context"

	"github.com/ashureev/portal-agent/internal/domain"
	"github.com/ashureev/portal-agent/internal/store"
)

func (ts *toolset) profile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	var profiles []domain.UserProfile
	if err := ts.store.FindByUser(ctx, store.UserProfiles, userID, store.Query{Limit: 1}, &profiles); err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, store.ErrNotFound
	}
	return &profiles[0], nil
}

func (ts *toolset) getUserProfileTool() *Tool {
	return &Tool{
		Name:        "getUserProfile",
		Description: "Get the user's portal profile: name, preferred language, contact details and city.",
		Kind:        KindRead,
		Service:     "profile",
		Execute: func(ctx context.Context, params map[string]any) Result {
			p, err := ts.profile(ctx, stringParam(params, "user_id"))
			if res, ok := ts.lookup("getUserProfile", err); !ok {
				return res
			}
			return OK(p, "")
		},
	}
}
