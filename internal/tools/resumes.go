package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ashureev/portal-agent/internal/domain"
	"github.com/ashureev/portal-agent/internal/store"
)

const serviceResume = "resume"

var resumeProperties = map[string]Property{
	"full_name":        {Type: TypeString},
	"headline":         {Type: TypeString, Description: "One-line professional headline"},
	"summary":          {Type: TypeString, Description: "Short professional summary"},
	"job_title":        {Type: TypeString, Description: "Current or desired job title, exactly as the user wrote it"},
	"skills":           {Type: TypeArray, Items: TypeString, Description: "List of skills"},
	"experience_years": {Type: TypeInteger, Description: "Total years of experience"},
	"education":        {Type: TypeString},
	"city":             {Type: TypeString},
	"phone":            {Type: TypeString},
	"email":            {Type: TypeString},
}

// applyResumeFields copies the provided resume fields from params into r
// and returns them as a store patch.
func applyResumeFields(r *domain.Resume, params map[string]any) map[string]any {
	patch := map[string]any{}
	setString := func(key string, dst *string) {
		if _, ok := params[key]; !ok {
			return
		}
		v := stringParam(params, key)
		if v == "" {
			return
		}
		*dst = v
		patch[key] = v
	}
	setString("full_name", &r.FullName)
	setString("headline", &r.Headline)
	setString("summary", &r.Summary)
	setString("job_title", &r.JobTitle)
	setString("education", &r.Education)
	setString("city", &r.City)
	setString("phone", &r.Phone)
	setString("email", &r.Email)

	if skills, ok := stringsParam(params, "skills"); ok && len(skills) > 0 {
		r.Skills = skills
		patch["skills"] = skills
	}
	if years, ok := intParam(params, "experience_years"); ok && years >= 0 {
		r.ExperienceYears = &years
		patch["experience_years"] = years
	}
	return patch
}

func (ts *toolset) latestResume(ctx context.Context, userID string) (*domain.Resume, error) {
	var resumes []domain.Resume
	if err := ts.store.FindByUser(ctx, store.Resumes, userID, store.Query{Limit: 1}, &resumes); err != nil {
		return nil, err
	}
	if len(resumes) == 0 {
		return nil, store.ErrNotFound
	}
	return &resumes[0], nil
}

func (ts *toolset) getResumeTool() *Tool {
	return &Tool{
		Name:        "getResume",
		Description: "Get the user's resume with its training courses.",
		Kind:        KindRead,
		Service:     serviceResume,
		Execute: func(ctx context.Context, params map[string]any) Result {
			userID := stringParam(params, "user_id")
			resume, err := ts.latestResume(ctx, userID)
			if res, ok := ts.lookup("getResume", err); !ok {
				return res
			}
			var courses []domain.ResumeCourse
			if err := ts.store.FindByUser(ctx, store.ResumeCourses, userID, store.Query{
				Where: map[string]any{"resume_id": resume.ID},
				Asc:   true,
			}, &courses); err != nil {
				return ts.upstream("getResume", err)
			}
			return OK(map[string]any{"resume": resume, "courses": courses}, "")
		},
	}
}

func (ts *toolset) createResumeTool() *Tool {
	return &Tool{
		Name:        "createResume",
		Description: "Create a new resume for the user. Fails if the user already has one; use updateResume then.",
		Parameters: Schema{
			Properties: resumeProperties,
			Required:   []string{"job_title"},
		},
		Kind:        KindTicketed,
		Service:     serviceResume,
		TicketTitle: "Resume created",
		Execute: func(ctx context.Context, params map[string]any) Result {
			userID := stringParam(params, "user_id")
			if _, err := ts.latestResume(ctx, userID); err == nil {
				return Fail(ErrCodeValidation, msgResumeExists)
			} else if !errors.Is(err, store.ErrNotFound) {
				return ts.upstream("createResume", err)
			}

			resume := &domain.Resume{UserID: userID}
			applyResumeFields(resume, params)
			if resume.FullName == "" {
				resume.FullName = ts.profileName(ctx, userID)
			}
			if err := ts.store.Insert(ctx, store.Resumes, resume); err != nil {
				return ts.upstream("createResume", err)
			}
			res := OK(resume, "تم إنشاء السيرة الذاتية. / Resume created.")
			res.Summary = "Resume created with job title " + resume.JobTitle
			return res
		},
	}
}

func (ts *toolset) updateResumeTool() *Tool {
	return &Tool{
		Name: "updateResume",
		Description: "Update fields of the user's resume (job title, headline, summary, skills, " +
			"experience, education, contact). Creates the resume if the user has none yet.",
		Parameters:  Schema{Properties: resumeProperties},
		Kind:        KindTicketed,
		Service:     serviceResume,
		TicketTitle: "Resume update",
		Execute:     ts.updateResume,
	}
}

func (ts *toolset) updateResume(ctx context.Context, params map[string]any) Result {
	userID := stringParam(params, "user_id")

	fields := applyResumeFields(&domain.Resume{}, params)
	if len(fields) == 0 {
		return Fail(ErrCodeValidation, msgNothingToApply)
	}

	resume, err := ts.latestResume(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// Unlike other update tools, a missing resume is created on the fly.
		resume = &domain.Resume{UserID: userID, FullName: ts.profileName(ctx, userID)}
		applyResumeFields(resume, params)
		if err := ts.store.Insert(ctx, store.Resumes, resume); err != nil {
			return ts.upstream("updateResume", err)
		}
	case err != nil:
		return ts.upstream("updateResume", err)
	default:
		patch := applyResumeFields(resume, params)
		if err := ts.store.Update(ctx, store.Resumes, resume.ID, patch); err != nil {
			return ts.upstream("updateResume", err)
		}
	}

	changed := make([]string, 0, len(fields))
	for key := range fields {
		changed = append(changed, key)
	}
	sort.Strings(changed)
	res := OK(resume, "تم تحديث السيرة الذاتية. / Resume updated.")
	res.Summary = "Resume fields updated: " + strings.Join(changed, ", ")
	return res
}

func (ts *toolset) addResumeCourseTool() *Tool {
	return &Tool{
		Name:        "addResumeCourse",
		Description: "Add a completed training course to the user's resume.",
		Parameters: Schema{
			Properties: map[string]Property{
				"title":        {Type: TypeString, Description: "Course title"},
				"provider":     {Type: TypeString, Description: "Institution or platform"},
				"completed_on": {Type: TypeString, Description: "Completion date, YYYY-MM-DD"},
			},
			Required: []string{"title"},
		},
		Kind:        KindTicketed,
		Service:     serviceResume,
		TicketTitle: "Resume course added",
		Execute: func(ctx context.Context, params map[string]any) Result {
			userID := stringParam(params, "user_id")
			resume, err := ts.latestResume(ctx, userID)
			if res, ok := ts.lookup("addResumeCourse", err); !ok {
				return res
			}
			course := &domain.ResumeCourse{
				UserID:      userID,
				ResumeID:    resume.ID,
				Title:       stringParam(params, "title"),
				Provider:    stringParam(params, "provider"),
				CompletedOn: stringParam(params, "completed_on"),
			}
			if err := ts.store.Insert(ctx, store.ResumeCourses, course); err != nil {
				return ts.upstream("addResumeCourse", err)
			}
			res := OK(course, "تمت إضافة الدورة. / Course added.")
			res.Summary = "Course added to resume: " + course.Title
			return res
		},
	}
}

func (ts *toolset) extractResumeFieldsTool() *Tool {
	return &Tool{
		Name: "extractResumeFields",
		Description: "Extract structured resume fields from free text the user pasted (for example an " +
			"old CV). Returns the fields; call updateResume afterwards to save them.",
		Parameters: Schema{
			Properties: map[string]Property{
				"text": {Type: TypeString, Description: "The raw resume text"},
			},
			Required: []string{"text"},
		},
		Kind:    KindRead,
		Service: serviceResume,
		Execute: func(ctx context.Context, params map[string]any) Result {
			if ts.extractor == nil {
				return Fail(ErrCodeUpstream, msgNoExtractor)
			}
			fields, err := ts.extractor.ExtractResumeFields(ctx, stringParam(params, "text"))
			if err != nil {
				return ts.upstream("extractResumeFields", err)
			}
			return OK(fields, fmt.Sprintf("%d field(s) extracted", len(fields)))
		},
	}
}

// profileName returns the user's full name, or "" when unavailable.
func (ts *toolset) profileName(ctx context.Context, userID string) string {
	profile, err := ts.profile(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			ts.logger.Debug("Failed to load profile for resume defaults", "user_id", userID, "error", err)
		}
		return ""
	}
	return profile.FullName
}
