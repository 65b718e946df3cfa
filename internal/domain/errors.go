// SPDX-License-Identifier: Apache-2.0

package domain

import "errors"

var ErrInvalidAPIKeyName = errors.New("invalid api key name")
var ErrInvalidScope = errors.New("invalid scope")
var ErrInvalidWebhookURL = errors.New("invalid webhook url")
var ErrNoWebhookEvents = errors.New("webhook must subscribe to at least one event")
var ErrInvalidCurrency = errors.New("invalid currency code")
