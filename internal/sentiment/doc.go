// Package sentiment supplies per-zone emotion lists to the choreography
// engine.
//
// The sentiment analysis itself runs elsewhere and publishes a JSON array
// of emotion names, one per camera zone, on ada/sentiment:
//
//	["Happiness","Sadness","Happiness","Anger"]
//
// Only the latest list matters: Next drains anything older and returns a
// list only when it differs from the previous one.
package sentiment
