package orchestrator

// DefaultPrompt is sent with every restoration task unless configured otherwise.
const DefaultPrompt = `Restore this old printed photo to brand new condition.
Remove all scratches, fading, dust, spots, noise, and any yellow/brown aging cast.
Remove all light reflections, flash glare, glossy shine, and moire patterns since this is a picture taken of a physical print.
Correct any blur, softness, or out-of-focus areas caused by the paper being curved or a poor photographing angle; make the entire image uniformly sharp from corner to corner.
Sharpen details gently and naturally, enhance contrast, and upscale to high resolution.
If the photo is black-and-white, restore clean neutral tones with deep blacks, bright whites, and rich grayscale; keep it strictly monochrome, no colorization.
If the photo is originally in color, bring back accurate, vibrant yet natural original colors without over-saturation.
Preserve the authentic vintage feel of the era, nothing overly modern or artificial.`
