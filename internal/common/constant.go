package common

import "time"

// APISecretHeaderName is the HTTP header Nightscout reads the hashed API
// secret from.
const APISecretHeaderName = "api-secret"

// ServiceStateKey is the metadata key the service state document is stored under.
const ServiceStateKey = "service_state"

// ObjectIDCacheKeepTime is how long a create acknowledgement is remembered.
const ObjectIDCacheKeepTime = 24 * time.Hour
