package services

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/can61cebi/sorukayisi-backend/models"
)

const (
	defaultQuestionPoints    = 100
	defaultQuestionTimeLimit = 30
)

type QuestionService struct {
	db *gorm.DB
}

func NewQuestionService(db *gorm.DB) *QuestionService {
	return &QuestionService{db: db}
}

type QuestionSetRequest struct {
	Title       string            `json:"title" binding:"required"`
	Description string            `json:"description"`
	Questions   []QuestionRequest `json:"questions" binding:"required,min=1,dive"`
}

type QuestionRequest struct {
	Text          string `json:"text" binding:"required"`
	OptionA       string `json:"option_a" binding:"required"`
	OptionB       string `json:"option_b" binding:"required"`
	OptionC       string `json:"option_c" binding:"required"`
	OptionD       string `json:"option_d" binding:"required"`
	CorrectOption string `json:"correct_option" binding:"required"`
	Points        int    `json:"points"`
	TimeLimit     int    `json:"time_limit"`
}

type UpdateQuestionSetRequest struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Questions   []QuestionRequest `json:"questions"`
}

// ValidateQuestion normalizes and checks one question payload in place.
func ValidateQuestion(req *QuestionRequest) error {
	if strings.TrimSpace(req.Text) == "" {
		return errors.New("question text is required")
	}
	for _, opt := range []string{req.OptionA, req.OptionB, req.OptionC, req.OptionD} {
		if strings.TrimSpace(opt) == "" {
			return errors.New("all four options are required")
		}
	}
	req.CorrectOption = strings.ToUpper(strings.TrimSpace(req.CorrectOption))
	switch req.CorrectOption {
	case "A", "B", "C", "D":
	default:
		return errors.New("correct option must be A, B, C or D")
	}
	if req.Points == 0 {
		req.Points = defaultQuestionPoints
	}
	if req.Points < 0 {
		return errors.New("points must be positive")
	}
	if req.TimeLimit == 0 {
		req.TimeLimit = defaultQuestionTimeLimit
	}
	if req.TimeLimit < 5 || req.TimeLimit > 300 {
		return errors.New("time limit must be between 5 and 300 seconds")
	}
	return nil
}

func (s *QuestionService) CreateQuestionSet(userID uint, req *QuestionSetRequest) (*models.QuestionSet, error) {
	tx := s.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	set := models.QuestionSet{
		Title:       req.Title,
		Description: req.Description,
		CreatorID:   userID,
	}
	if err := tx.Create(&set).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := createQuestions(tx, set.ID, req.Questions); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return s.GetQuestionSet(set.ID, userID, models.RoleAdmin)
}

func createQuestions(tx *gorm.DB, setID uint, reqs []QuestionRequest) error {
	for i := range reqs {
		if err := ValidateQuestion(&reqs[i]); err != nil {
			return err
		}
		question := models.Question{
			QuestionSetID: setID,
			Text:          reqs[i].Text,
			OptionA:       reqs[i].OptionA,
			OptionB:       reqs[i].OptionB,
			OptionC:       reqs[i].OptionC,
			OptionD:       reqs[i].OptionD,
			CorrectOption: reqs[i].CorrectOption,
			Points:        reqs[i].Points,
			TimeLimit:     reqs[i].TimeLimit,
			Position:      i,
		}
		if err := tx.Create(&question).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *QuestionService) GetQuestionSets(userID uint, role string) ([]models.QuestionSet, error) {
	var sets []models.QuestionSet
	query := s.db.Preload("Questions", func(db *gorm.DB) *gorm.DB {
		return db.Order("questions.position")
	}).Order("created_at DESC")
	if role != models.RoleAdmin {
		query = query.Where("creator_id = ?", userID)
	}
	err := query.Find(&sets).Error
	return sets, err
}

func (s *QuestionService) GetQuestionSet(setID uint, userID uint, role string) (*models.QuestionSet, error) {
	var set models.QuestionSet
	query := s.db.Where("id = ?", setID).
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("questions.position")
		})
	if role != models.RoleAdmin {
		query = query.Where("creator_id = ?", userID)
	}
	err := query.First(&set).Error
	if err != nil {
		return nil, err
	}
	return &set, nil
}

func (s *QuestionService) UpdateQuestionSet(setID uint, userID uint, role string, req *UpdateQuestionSetRequest) (*models.QuestionSet, error) {
	set, err := s.GetQuestionSet(setID, userID, role)
	if err != nil {
		return nil, err
	}

	tx := s.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if req.Title != "" {
		set.Title = req.Title
	}
	if req.Description != "" {
		set.Description = req.Description
	}
	if err := tx.Save(set).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if req.Questions != nil {
		if err := tx.Where("question_set_id = ?", setID).Delete(&models.Question{}).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := createQuestions(tx, set.ID, req.Questions); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return s.GetQuestionSet(set.ID, userID, role)
}

func (s *QuestionService) DeleteQuestionSet(setID uint, userID uint, role string) error {
	if _, err := s.GetQuestionSet(setID, userID, role); err != nil {
		return err
	}
	return s.db.Delete(&models.QuestionSet{}, setID).Error
}

// LoadQuestions returns a set's questions in play order.
func (s *QuestionService) LoadQuestions(setID uint) ([]models.Question, error) {
	var questions []models.Question
	err := s.db.Where("question_set_id = ?", setID).
		Order("position").
		Find(&questions).Error
	return questions, err
}
