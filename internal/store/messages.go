package store

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/backweb/backweb/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// redactedDiff is the diff stored in place of password hash changes.
var redactedDiff = [2]string{"unknown", "•••••••"}

// DiffFields computes the per-field [old, new] diff between two values of
// the same model struct. Only exported scalar fields participate. The
// hash_password field is always redacted.
func DiffFields(oldValue, newValue any) map[string][2]string {
	diff := map[string][2]string{}
	oldV := reflect.Indirect(reflect.ValueOf(oldValue))
	newV := reflect.Indirect(reflect.ValueOf(newValue))
	if !oldV.IsValid() || !newV.IsValid() || oldV.Type() != newV.Type() {
		return diff
	}
	for i := 0; i < oldV.NumField(); i++ {
		field := oldV.Type().Field(i)
		if !field.IsExported() {
			continue
		}
		switch oldV.Field(i).Kind() {
		case reflect.String, reflect.Bool,
			reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		default:
			continue
		}
		before := fmt.Sprintf("%v", oldV.Field(i).Interface())
		after := fmt.Sprintf("%v", newV.Field(i).Interface())
		if before == after {
			continue
		}
		if field.Name == "HashPassword" {
			diff[field.Name] = redactedDiff
			continue
		}
		diff[field.Name] = [2]string{before, after}
	}
	return diff
}

// recordMessage appends one audit row. Audit failures are logged, never
// propagated: an audit problem must not fail the mutation itself.
func (s *Store) recordMessage(conn *gorm.DB, modelName string, modelID uint64, authorID *uint64, msgType, body string, changes map[string][2]string) {
	if changes == nil {
		changes = map[string][2]string{}
	}
	encoded, errEncode := json.Marshal(changes)
	if errEncode != nil {
		log.WithError(errEncode).Warn("encode audit changes")
		encoded = []byte("{}")
	}
	message := models.Message{
		ModelName: modelName,
		ModelID:   modelID,
		Date:      time.Now().UTC(),
		AuthorID:  authorID,
		Type:      msgType,
		Body:      body,
		Changes:   datatypes.JSON(encoded),
	}
	if errCreate := conn.Create(&message).Error; errCreate != nil {
		log.WithError(errCreate).Warnf("record %s message for %s %d", msgType, modelName, modelID)
	}
}

// Messages returns the audit trail for one entity, newest first.
func (s *Store) Messages(modelName string, modelID uint64, limit int) ([]models.Message, error) {
	var rows []models.Message
	query := s.DB.Where("model_name = ? AND model_id = ?", modelName, modelID).Order("date DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if errFind := query.Find(&rows).Error; errFind != nil {
		return nil, errFind
	}
	return rows, nil
}

// purgeMessages removes the audit trail together with its entity.
func (s *Store) purgeMessages(conn *gorm.DB, modelName string, modelID uint64) {
	if errDelete := conn.Where("model_name = ? AND model_id = ?", modelName, modelID).
		Delete(&models.Message{}).Error; errDelete != nil {
		log.WithError(errDelete).Warnf("purge messages for %s %d", modelName, modelID)
	}
}
