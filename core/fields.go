package core

import (
	"fmt"
	"time"
)

// Field name constants, matching the persisted document schema. Partial
// updates are keyed by these names.
const (
	FieldX             = "x"
	FieldY             = "y"
	FieldWidth         = "width"
	FieldHeight        = "height"
	FieldRotation      = "rotation"
	FieldColor         = "color"
	FieldStrokeColor   = "strokeColor"
	FieldStrokeWidth   = "strokeWidth"
	FieldOpacity       = "opacity"
	FieldText          = "text"
	FieldFontSize      = "fontSize"
	FieldFontWeight    = "fontWeight"
	FieldFontStyle     = "fontStyle"
	FieldZIndex        = "zIndex"
	FieldLockedBy      = "lockedBy"
	FieldLockedAt      = "lockedAt"
	FieldLastUpdatedBy = "lastUpdatedBy"
	FieldUpdatedAt     = "updatedAt"
)

// ApplyFields patches the named fields onto obj. Unknown field names are an
// error so that a typo in an undo payload cannot silently drop a write.
func ApplyFields(obj *Object, fields Fields) error {
	for name, value := range fields {
		if err := applyField(obj, name, value); err != nil {
			return err
		}
	}
	return nil
}

func applyField(obj *Object, name string, value any) error {
	switch name {
	case FieldX:
		return setFloat(&obj.X, name, value)
	case FieldY:
		return setFloat(&obj.Y, name, value)
	case FieldWidth:
		return setFloat(&obj.Width, name, value)
	case FieldHeight:
		return setFloat(&obj.Height, name, value)
	case FieldRotation:
		return setFloat(&obj.Rotation, name, value)
	case FieldStrokeWidth:
		return setFloat(&obj.StrokeWidth, name, value)
	case FieldOpacity:
		return setFloat(&obj.Opacity, name, value)
	case FieldFontSize:
		return setFloat(&obj.FontSize, name, value)
	case FieldZIndex:
		return setFloat(&obj.ZIndex, name, value)
	case FieldColor:
		return setString(&obj.Color, name, value)
	case FieldStrokeColor:
		return setString(&obj.StrokeColor, name, value)
	case FieldText:
		return setString(&obj.Text, name, value)
	case FieldFontWeight:
		return setString(&obj.FontWeight, name, value)
	case FieldFontStyle:
		return setString(&obj.FontStyle, name, value)
	case FieldLockedBy:
		return setString(&obj.LockedBy, name, value)
	case FieldLastUpdatedBy:
		return setString(&obj.LastUpdatedBy, name, value)
	case FieldLockedAt:
		switch v := value.(type) {
		case nil:
			obj.LockedAt = nil
		case *time.Time:
			obj.LockedAt = v
		case time.Time:
			t := v
			obj.LockedAt = &t
		default:
			return fmt.Errorf("field %s: unsupported value type %T", name, value)
		}
		return nil
	case FieldUpdatedAt:
		t, ok := value.(time.Time)
		if !ok {
			return fmt.Errorf("field %s: unsupported value type %T", name, value)
		}
		obj.UpdatedAt = t
		return nil
	default:
		return fmt.Errorf("unknown object field %q", name)
	}
}

func setFloat(dst *float64, name string, value any) error {
	switch v := value.(type) {
	case float64:
		*dst = v
	case float32:
		*dst = float64(v)
	case int:
		*dst = float64(v)
	case int64:
		*dst = float64(v)
	default:
		return fmt.Errorf("field %s: unsupported value type %T", name, value)
	}
	return nil
}

func setString(dst *string, name string, value any) error {
	switch v := value.(type) {
	case string:
		*dst = v
	case nil:
		*dst = ""
	default:
		return fmt.Errorf("field %s: unsupported value type %T", name, value)
	}
	return nil
}

// CaptureFields reads the named fields off obj, producing the inverse
// payload for a patch that is about to overwrite them.
func CaptureFields(obj *Object, names ...string) Fields {
	captured := make(Fields, len(names))
	for _, name := range names {
		switch name {
		case FieldX:
			captured[name] = obj.X
		case FieldY:
			captured[name] = obj.Y
		case FieldWidth:
			captured[name] = obj.Width
		case FieldHeight:
			captured[name] = obj.Height
		case FieldRotation:
			captured[name] = obj.Rotation
		case FieldStrokeWidth:
			captured[name] = obj.StrokeWidth
		case FieldOpacity:
			captured[name] = obj.Opacity
		case FieldFontSize:
			captured[name] = obj.FontSize
		case FieldZIndex:
			captured[name] = obj.ZIndex
		case FieldColor:
			captured[name] = obj.Color
		case FieldStrokeColor:
			captured[name] = obj.StrokeColor
		case FieldText:
			captured[name] = obj.Text
		case FieldFontWeight:
			captured[name] = obj.FontWeight
		case FieldFontStyle:
			captured[name] = obj.FontStyle
		case FieldLockedBy:
			captured[name] = obj.LockedBy
		case FieldLockedAt:
			captured[name] = obj.LockedAt
		case FieldLastUpdatedBy:
			captured[name] = obj.LastUpdatedBy
		}
	}
	return captured
}
