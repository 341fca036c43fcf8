package modeconfig

// descriptorSchema is the JSON Schema every decoded ModeDescriptor is
// validated against before being admitted to a mode.List.
const descriptorSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "ModeDescriptor",
  "type": "object",
  "required": ["name"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "module": {"type": "string"},
    "function": {"type": "string"},
    "sysfs_path": {"type": "string"},
    "sysfs_value": {"type": "string"},
    "sysfs_reset_value": {"type": "string"},
    "softconnect_path": {"type": "string"},
    "id_product": {"type": "string"},
    "id_vendor_override": {"type": "string"},
    "android_extra_sysfs": {
      "type": "array",
      "maxItems": 4,
      "items": {
        "type": "object",
        "required": ["path", "value"],
        "properties": {
          "path": {"type": "string"},
          "value": {"type": "string"}
        }
      }
    },
    "network": {"type": "boolean"},
    "appsync": {"type": "boolean"},
    "mass_storage": {"type": "boolean"},
    "nat": {"type": "boolean"},
    "dhcp_server": {"type": "boolean"},
    "external_synonym": {"type": "string"}
  },
  "additionalProperties": true
}`
