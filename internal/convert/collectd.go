package convert

import (
	"fmt"
	"strings"

	"github.com/tinytelemetry/tsnorm/internal/document"
	"github.com/tinytelemetry/tsnorm/internal/model"
)

const (
	fieldValues         = "values"
	fieldDSTypes        = "dstypes"
	fieldDSNames        = "dsnames"
	fieldInterval       = "interval"
	fieldHost           = "host"
	fieldPlugin         = "plugin"
	fieldPluginInstance = "plugin_instance"
	fieldType           = "type"
	fieldTypeInstance   = "type_instance"
	fieldMeta           = "meta"

	metaTagAddPrefix      = "tsdb_tag_add_"
	metaTagAddCollector   = metaTagAddPrefix + "collector"
	metaCollectorCollectd = "collectd"
	metaMetric            = "tsdb_metric"
	metaTagPlugin         = "tsdb_tag_plugin"
	metaTagPluginInstance = "tsdb_tag_pluginInstance"
	metaTagType           = "tsdb_tag_type"
	metaTagTypeInstance   = "tsdb_tag_typeInstance"
	metaTagDSName         = "tsdb_tag_dsname"

	tagFQDN         = "fqdn"
	tagDSName       = "dsname"
	defaultDSName   = "value"
	millisPerSecond = 1000
)

// metaTagFields maps a meta directive naming a tag key to the envelope field
// that supplies the tag value.
var metaTagFields = map[string]string{
	metaTagPlugin:         fieldPlugin,
	metaTagPluginInstance: fieldPluginInstance,
	metaTagType:           fieldType,
	metaTagTypeInstance:   fieldTypeInstance,
}

// CollectdConverter handles collectd write_http JSON envelopes annotated with
// tsdb_* meta directives. Each entry of values becomes one measurement.
type CollectdConverter struct{}

func (CollectdConverter) Name() string { return FormatCollectd }

// Accept reports whether doc is a collectd envelope tagged with
// meta.tsdb_tag_add_collector = "collectd".
func (CollectdConverter) Accept(doc document.Value) bool {
	return hasKind(doc, fieldValues, document.Array) &&
		hasKind(doc, fieldDSTypes, document.Array) &&
		hasKind(doc, fieldDSNames, document.Array) &&
		hasKind(doc, fieldHost, document.String) &&
		hasKind(doc, fieldPlugin, document.String) &&
		hasKind(doc, fieldPluginInstance, document.String) &&
		hasKind(doc, fieldType, document.String) &&
		hasKind(doc, fieldTypeInstance, document.String) &&
		hasKind(doc, fieldInterval, document.Number) &&
		hasKind(doc, fieldTime, document.Number) &&
		validMeta(doc)
}

func hasKind(doc document.Value, field string, kind document.Kind) bool {
	v, ok := doc.Get(field)
	return ok && v.Kind() == kind
}

func validMeta(doc document.Value) bool {
	meta, ok := doc.Get(fieldMeta)
	if !ok || meta.Kind() != document.Object {
		return false
	}
	collector, ok := meta.Get(metaTagAddCollector)
	if !ok {
		return false
	}
	s, isString := collector.StringValue()
	return isString && s == metaCollectorCollectd
}

// BaseTags derives the tags shared by every value of the envelope. It starts
// with fqdn=host, then applies the tsdb_tag_* directives found in meta. A
// tsdb_tag_add_* directive whose value is not a string voids the whole
// mapping and an empty one is returned.
//
// Directives are applied in ascending order of their meta field name, not in
// document order. When two directives write the same tag key, the one whose
// field name sorts last wins: tsdb_tag_type:"x" overrides tsdb_tag_add_x.
func (CollectdConverter) BaseTags(doc, meta document.Value) map[string]string {
	host, _ := doc.Get(fieldHost)
	tags := map[string]string{tagFQDN: host.Text()}

	fields, _ := meta.Fields()
	for _, f := range fields {
		if source, ok := metaTagFields[f.Name]; ok {
			key, isString := f.Value.StringValue()
			if !isString || key == "" {
				continue
			}
			value, _ := doc.Get(source)
			tags[key] = value.Text()
			continue
		}
		if strings.HasPrefix(f.Name, metaTagAddPrefix) {
			value, isString := f.Value.StringValue()
			if !isString {
				return map[string]string{}
			}
			tags[strings.TrimPrefix(f.Name, metaTagAddPrefix)] = value
		}
	}
	return tags
}

// MeasurementName is meta.tsdb_metric when set, otherwise type_instance.
func (CollectdConverter) MeasurementName(doc, meta document.Value) string {
	if metric, ok := meta.Get(metaMetric); ok && !metric.IsNull() {
		return metric.Text()
	}
	typeInstance, _ := doc.Get(fieldTypeInstance)
	return typeInstance.Text()
}

// DSNameTagKey returns the tag key that overrides the default dsname tag, and
// false when meta.tsdb_tag_dsname is absent, null or empty.
func (CollectdConverter) DSNameTagKey(meta document.Value) (string, bool) {
	v, ok := meta.Get(metaTagDSName)
	if !ok || v.IsNull() || v.Text() == "" {
		return "", false
	}
	return v.Text(), true
}

// Convert expands the envelope into one measurement per entry of values.
// The timestamp is time (seconds) scaled to milliseconds.
func (c CollectdConverter) Convert(doc document.Value) ([]model.Measurement, error) {
	if !c.Accept(doc) {
		return nil, fmt.Errorf("%w: not a valid collectd metric", ErrInvalidDocument)
	}
	valuesDoc, _ := doc.Get(fieldValues)
	namesDoc, _ := doc.Get(fieldDSNames)
	values, _ := valuesDoc.Array()
	names, _ := namesDoc.Array()
	if len(values) != len(names) {
		return nil, fmt.Errorf("%w: %d values but %d dsnames", ErrStructuralViolation, len(values), len(names))
	}

	meta, _ := doc.Get(fieldMeta)
	seconds, _ := doc.Get(fieldTime)
	secs, _ := seconds.Number()
	timestamp := secs * millisPerSecond

	base := c.BaseTags(doc, meta)
	name := c.MeasurementName(doc, meta)
	dsKey, override := c.DSNameTagKey(meta)

	out := make([]model.Measurement, 0, len(values))
	for i, v := range values {
		dsName := names[i].Text()
		tags := model.CloneTags(base)
		switch {
		case override:
			tags[dsKey] = dsName
		case dsName != "" && dsName != defaultDSName:
			tags[tagDSName] = dsName
		}
		out = append(out, model.Measurement{Name: name, Timestamp: timestamp, Value: v.Float(), Tags: tags})
	}
	return out, nil
}
